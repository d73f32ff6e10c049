// Package eventbus is a process-local, best-effort publish/subscribe
// facility for observability hooks (spec §4.6). No component's
// correctness may depend on delivery: publish is synchronous to the
// publisher but isolates listener panics so a bad listener can never
// corrupt the main ingestion path.
//
// Grounded on the teacher's internal/ingestion/metrics.go
// (MetricsTracker.OnChange/Update), generalized from one implicit
// "metrics changed" topic to the named topics spec §4.6 lists.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/logger"
)

// Named topics from spec §4.6.
const (
	TopicPositionProcessed = "position.processed"
	TopicBatchFlushed      = "batch.flushed"
	TopicQueueCompleted    = "queue.completed"
	TopicQueueFailed       = "queue.failed"
	TopicStoreWritten      = "store.written"
	TopicStoreCleaned      = "store.cleaned"
	TopicAppShutdown       = "app.shutdown"
)

// Listener receives the payload published to a topic.
type Listener func(payload interface{})

// Bus is a named-topic pub/sub registry.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]Listener)}
}

// Subscribe registers a listener for topic. Order of delivery across
// listeners on the same topic is registration order.
func (b *Bus) Subscribe(topic string, listener Listener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[topic] = append(b.listeners[topic], listener)
}

// Publish delivers payload to every listener on topic, synchronously,
// in the publisher's goroutine. A listener that panics is recovered
// and logged; it never propagates to the publisher.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners[topic]))
	copy(listeners, b.listeners[topic])
	b.mu.RUnlock()

	for _, l := range listeners {
		b.safeInvoke(topic, l, payload)
	}
}

func (b *Bus) safeInvoke(topic string, l Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("eventbus listener panicked",
				zap.String("topic", topic),
				zap.Any("recovered", r),
			)
		}
	}()
	l(payload)
}
