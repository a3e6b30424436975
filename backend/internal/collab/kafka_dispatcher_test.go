package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaDispatcher_SendsEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt DocEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.DocID != "d1" || evt.EventType != EventAnnotationAdded {
			return errors.New("unexpected event")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "doc-events", NewSemaphoreControl(1), KafkaDispatcherOptions{QueueSize: 4, Workers: 1})
	err := d.Enqueue(context.Background(), DocEvent{EventType: EventAnnotationAdded, DocID: "d1", Revision: 1})
	require.NoError(t, err)
	d.Close()
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_RetryThenSucceed(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "doc-events", nil, KafkaDispatcherOptions{
		QueueSize:   1,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
	})
	require.NoError(t, d.Enqueue(context.Background(), DocEvent{EventType: EventOpApplied, DocID: "d1"}))
	d.Close()
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_EnqueueTimesOutWhenFull(t *testing.T) {
	// 无缓冲且没有 worker 的队列
	d := &KafkaDispatcher{queue: make(chan DocEvent)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, DocEvent{DocID: "d1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafkaDispatcher_EnqueueAfterClose(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	d := NewKafkaDispatcher(producer, "doc-events", nil, KafkaDispatcherOptions{QueueSize: 1, Workers: 2})
	d.Close()
	d.Close()

	err := d.Enqueue(context.Background(), DocEvent{DocID: "d1"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
	require.NoError(t, producer.Close())
}

// 关闭与并发提交交错时不能 panic
func TestKafkaDispatcher_CloseWhileEnqueueing(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{QueueSize: 8, Workers: 2})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
				err := d.Enqueue(ctx, DocEvent{DocID: "d1"})
				cancel()
				if err != nil && !errors.Is(err, ErrDispatcherClosed) && !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	d.Close()
	wg.Wait()
}

func TestSemaphoreControl(t *testing.T) {
	sem := NewSemaphoreControl(1)
	require.NoError(t, sem.Acquire(context.Background()))
	assert.Equal(t, 1, sem.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(ctx), ErrSemaphoreTimeout)

	require.NoError(t, sem.Release())
	assert.ErrorIs(t, sem.Release(), ErrSemaphoreNotAcquired)
	assert.Equal(t, DefaultSemaphoreSize, cap(NewSemaphoreControl(0).ch))
}

func TestEventFromOp(t *testing.T) {
	evt := eventFromOp("d1", AppliedOp{Revision: 3, Command: CmdRemoveAnnotationID, AnnotationID: "a"})
	assert.Equal(t, EventAnnotationRemoved, evt.EventType)
	assert.Equal(t, uint64(2), evt.BaseRevision)
	assert.Equal(t, "a", evt.AnnotationID)

	evt = eventFromOp("d1", AppliedOp{Revision: 1, Command: CmdShowNewAnnotation})
	assert.Equal(t, EventOpApplied, evt.EventType)
}
