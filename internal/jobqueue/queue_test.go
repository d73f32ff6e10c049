package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEventBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingEventBus) Publish(topic string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
}

func (b *recordingEventBus) has(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func TestQueue_ProcessesJobAndPublishesCompleted(t *testing.T) {
	backend := NewMemoryBackend()
	bus := &recordingEventBus{}

	var handled int32
	handler := func(_ context.Context, job *Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}

	q := NewQueue(QueueConfig{Name: "history", Concurrency: 1, MaxAttempts: 3}, backend, handler, bus)
	require.NoError(t, backend.Enqueue(context.Background(), newJob("history", KindHistory, []byte("x"), false, 3)))

	q.Start()
	defer q.Shutdown()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return bus.has("queue.completed") }, time.Second, 10*time.Millisecond)

	stats, err := backend.Stats(context.Background(), "history")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Completed)
}

func TestQueue_RetriesOnHandlerFailureThenDeadLetters(t *testing.T) {
	backend := NewMemoryBackend()
	bus := &recordingEventBus{}

	handler := func(_ context.Context, job *Job) error {
		return errors.New("store unavailable")
	}

	q := NewQueue(QueueConfig{Name: "latest", Concurrency: 1, MaxAttempts: 2, BaseBackoff: time.Millisecond}, backend, handler, bus)
	require.NoError(t, backend.Enqueue(context.Background(), newJob("latest", KindLatest, []byte("x"), false, 2)))

	q.Start()
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		stats, _ := backend.Stats(context.Background(), "latest")
		return stats.Dead == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, bus.has("queue.failed"))
}

func TestQueue_ShutdownStopsWorkersPromptly(t *testing.T) {
	backend := NewMemoryBackend()
	handler := func(_ context.Context, job *Job) error { return nil }
	q := NewQueue(QueueConfig{Name: "history", Concurrency: 2, MaxAttempts: 3}, backend, handler, nil)

	q.Start()

	done := make(chan struct{})
	go func() {
		q.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
