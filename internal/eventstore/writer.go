package eventstore

import (
	"context"
	"sync"

	"github.com/roomctl/roomcore/internal/logger"
	"github.com/roomctl/roomcore/internal/metrics"
)

// DefaultQueueCapacity bounds how many pending records the writer will
// buffer before it starts dropping. Sized generously above the
// publish rate of a single room so a momentary backend stall doesn't
// lose events, without letting an extended outage grow memory
// unboundedly.
const DefaultQueueCapacity = 4096

// Writer asynchronously appends records to a Store off the
// coordinator's single event loop goroutine. Enqueue never blocks: a
// full queue means the backend can't keep up, and the record is
// dropped and counted rather than stalling dispatch or graph
// execution waiting on durable storage.
type Writer struct {
	store Store
	mr    *metrics.Registry

	queue chan Record

	wg   sync.WaitGroup
	done chan struct{}
}

// NewWriter starts the background drain goroutine immediately. Stop
// must be called to flush and release it.
func NewWriter(store Store, capacity int, mr *metrics.Registry) *Writer {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	w := &Writer{
		store: store,
		mr:    mr,
		queue: make(chan Record, capacity),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue offers rec to the writer queue, returning false if it was
// dropped because the queue is full.
func (w *Writer) Enqueue(rec Record) bool {
	select {
	case w.queue <- rec:
		return true
	default:
		if w.mr != nil {
			w.mr.IncEventWriteDrop()
		}
		logger.Warn("event store write queue full, dropping record", "room_id", rec.RoomID, "device_id", rec.DeviceID, "topic", rec.Topic)
		return false
	}
}

func (w *Writer) drain() {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.store.AppendEvent(ctx, rec); err != nil {
				logger.Warn("event store append failed", "error", err, "room_id", rec.RoomID, "topic", rec.Topic)
			}
		case <-w.done:
			// Drain whatever is already queued before exiting so a
			// graceful shutdown doesn't lose events still in flight.
			for {
				select {
				case rec, ok := <-w.queue:
					if !ok {
						return
					}
					if err := w.store.AppendEvent(ctx, rec); err != nil {
						logger.Warn("event store append failed during shutdown", "error", err, "room_id", rec.RoomID, "topic", rec.Topic)
					}
				default:
					return
				}
			}
		}
	}
}

// Stop signals the drain goroutine to flush and exit, and waits for it.
func (w *Writer) Stop() {
	close(w.done)
	w.wg.Wait()
}
