package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// EventSink 接收文档事件，Service 只依赖这个接口
type EventSink interface {
	Enqueue(ctx context.Context, evt DocEvent) error
}

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// - 不阻塞主提交流程（Submit/Exec 只负责入队）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 重试 MaxRetry 次仍失败则丢弃
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	// mu 保护 closed：Enqueue 持读锁发送，Close 持写锁关闭队列
	mu     sync.RWMutex
	closed bool
	queue  chan DocEvent
	wg     sync.WaitGroup

	// 限制并发的 SendMessage 数量
	kafkaSem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaDispatcherOptions struct {
	QueueSize   int           `mapstructure:"queueSize"`
	Workers     int           `mapstructure:"workers"`
	MaxRetry    int           `mapstructure:"maxRetry"`
	BaseBackoff time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
}

var _ EventSink = (*KafkaDispatcher)(nil)

var ErrDispatcherClosed = errors.New("DISPATCHER_CLOSED")

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, kafkaSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.QueueSize < 0 {
		opt.QueueSize = 0
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan DocEvent, opt.QueueSize),
		kafkaSem:    kafkaSem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// Enqueue：把事件放入本地队列。
// 队列满时等待直到 ctx 超时（kafka 不要求强一致性，不是每个事件都必须送达）。
// Close 之后返回 ErrDispatcherClosed
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt DocEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *KafkaDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

// Close 关闭队列并等待已入队的事件发送完毕，可以重复调用
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt DocEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.kafkaSem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.kafkaSem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.kafkaSem != nil {
			_ = d.kafkaSem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event type=%s doc=%s op=%s rev=%d worker=%d err=%v",
				evt.EventType, evt.DocID, evt.OperationID, evt.Revision, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if d.maxBackoff > 0 && backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt DocEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID), // 以 docId 做 key，便于按文档分区
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
