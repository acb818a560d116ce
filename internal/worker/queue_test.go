package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
)

func TestQueue_ExecutesAllJobs(t *testing.T) {
	q := NewQueue(context.Background(), 3, 10, testhelpers.NewTestLogger())
	var count atomic.Int32

	for i := 0; i < 10; i++ {
		assert.True(t, q.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	q.Close()

	assert.Equal(t, int32(10), count.Load())
	assert.Equal(t, Counts{Done: 10}, q.Counts())
}

func TestQueue_SurvivesPanicsAndErrors(t *testing.T) {
	q := NewQueue(context.Background(), 1, 3, testhelpers.NewTestLogger())
	var ran atomic.Bool

	q.Submit(func(ctx context.Context) error { panic("boom") })
	q.Submit(func(ctx context.Context) error { return errors.New("failed") })
	q.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Close()

	assert.True(t, ran.Load(), "worker must survive a panicking job")
	assert.Equal(t, Counts{Done: 1, Failed: 2}, q.Counts())
}

func TestQueue_CancelledContextStillDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue(ctx, 2, 5, testhelpers.NewTestLogger())
	var cancelled atomic.Int32
	for i := 0; i < 5; i++ {
		assert.True(t, q.Submit(func(ctx context.Context) error {
			if ctx.Err() != nil {
				cancelled.Add(1)
			}
			return nil
		}))
	}
	q.Close()

	assert.Equal(t, int32(5), cancelled.Load(), "jobs see the cancelled context but still run")
}

func TestQueue_PreservesOrderWithSingleWorker(t *testing.T) {
	q := NewQueue(context.Background(), 1, 100, testhelpers.NewTestLogger())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		assert.True(t, q.Submit(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	q.Close()

	assert.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestQueue_RejectsWhenFullOrClosed(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	q := NewQueue(context.Background(), 1, 1, testhelpers.NewTestLogger())
	noop := func(ctx context.Context) error { return nil }

	assert.True(t, q.Submit(func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	assert.True(t, q.Submit(noop))
	assert.False(t, q.Submit(noop), "queue is full")

	close(block)
	q.Close()
	q.Close()

	assert.False(t, q.Submit(noop), "queue is closed")
	assert.Equal(t, Counts{Done: 2, Rejected: 2}, q.Counts())
}
