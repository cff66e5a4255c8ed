package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))

	got := []string{<-done, <-done}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestQueueRetriesThenReportsFailure(t *testing.T) {
	var calls atomic.Int32
	failed := make(chan Job, 1)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("boom")
	}, QueueConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		OnFailure:  func(j Job, err error) { failed <- j },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	select {
	case job := <-failed:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("failure hook not called")
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestQueueWithoutRetriesFailsImmediately(t *testing.T) {
	failed := make(chan Job, 1)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		return errors.New("boom")
	}, QueueConfig{OnFailure: func(j Job, err error) { failed <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	select {
	case job := <-failed:
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("failure hook not called")
	}
}

func TestQueueEnqueueRequiresStart(t *testing.T) {
	q := NewQueue("runs", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueEnqueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("runs", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(block)

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "2"}))
	err := q.Enqueue(Job{ID: "3"})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Pending())
}
