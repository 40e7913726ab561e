package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	var runs int64
	s := NewScheduler(zap.NewNop())
	s.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))
}

func TestSchedulerSurvivesFailingJob(t *testing.T) {
	var runs int64
	s := NewScheduler(zap.NewNop())
	s.Register("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return errors.New("boom")
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))
}

func TestSchedulerIgnoresInvalidRegistration(t *testing.T) {
	s := NewScheduler(nil)
	s.Register("bad", 0, func(ctx context.Context) error { return nil })

	s.Start(context.Background())
	s.Stop()
}

func TestQueueProcessesJobs(t *testing.T) {
	var handled int64
	q := NewQueue("touch", func(ctx context.Context, job Job) error {
		atomic.AddInt64(&handled, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8})

	q.Start(context.Background())
	for i := 0; i < 5; i++ {
		assert.NoError(t, q.Enqueue(Job{ID: "j", Type: "touch"}))
	}
	time.Sleep(50 * time.Millisecond)
	q.Stop()

	assert.Equal(t, int64(5), atomic.LoadInt64(&handled))
}

func TestQueueEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "j"}))
}
