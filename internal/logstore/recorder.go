package logstore

import (
	"log/slog"
	"sync"

	"github.com/foxzi/mailtrack/internal/tracking"
)

// Observer is notified about the outcome of every write
type Observer interface {
	TrackEvent(kind string)
	TrackLogWriteFailure(log string)
}

// Recorder writes tracking events in the background so that callers serving
// a pixel or a redirect never wait on, or fail because of, the log file.
// Failures are reported to the logger and the observer only.
type Recorder struct {
	store    *Store
	events   chan tracking.Event
	observer Observer
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder and starts its writer goroutine.
// observer may be nil.
func NewRecorder(store *Store, queueSize int, observer Observer, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		store:    store,
		events:   make(chan tracking.Event, queueSize),
		observer: observer,
		logger:   logger,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record queues the event for writing. When the queue is full the event is
// written synchronously instead of being dropped.
func (r *Recorder) Record(event tracking.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.events <- event:
	default:
		r.logger.Warn("tracking queue full, writing inline", "kind", event.Kind, "id", event.TrackingID)
		r.write(event)
	}
	return nil
}

// Close stops accepting events and waits until queued events are written
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for event := range r.events {
		r.write(event)
	}
}

func (r *Recorder) write(event tracking.Event) {
	if err := r.store.Record(event); err != nil {
		r.logger.Error("failed to record tracking event",
			"kind", event.Kind,
			"id", event.TrackingID,
			"error", err,
		)
		if r.observer != nil {
			name, _ := ForKind(event.Kind)
			r.observer.TrackLogWriteFailure(string(name))
		}
		return
	}

	if r.observer != nil {
		r.observer.TrackEvent(string(event.Kind))
	}
}
