package collab

import (
	"context"
	"errors"
)

const DefaultSemaphoreSize = 100

var (
	ErrSemaphoreTimeout     = errors.New("acquire reach time limit")
	ErrSemaphoreNotAcquired = errors.New("release failed, semaphore is not acquired")
)

type SemaphoreControl struct {
	ch chan struct{}
}

// NewSemaphoreControl size <= 0 时使用默认大小
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultSemaphoreSize
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrSemaphoreTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotAcquired
	}
}

// InUse 当前被占用的数量
func (s *SemaphoreControl) InUse() int { return len(s.ch) }
