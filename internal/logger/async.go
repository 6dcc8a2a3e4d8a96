package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops the async handler.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from the writer behind a buffered
// queue drained by a single goroutine. A full queue drops the record
// rather than blocking the caller.
type AsyncHandler struct {
	inner slog.Handler

	queue   chan queuedRecord
	done    chan struct{}
	stop    *sync.Once
	dropped *atomic.Int64
}

// queuedRecord pairs a record with the handler that enqueued it, so
// attrs and groups added via WithAttrs/WithGroup survive the handoff.
type queuedRecord struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler wraps inner with a queue of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		queue:   make(chan queuedRecord, capacity),
		done:    make(chan struct{}),
		stop:    &sync.Once{},
		dropped: &atomic.Int64{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for q := range h.queue {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- queuedRecord{h: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs wraps the attributed inner handler, sharing the queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.inner.WithAttrs(attrs))
}

// WithGroup wraps the grouped inner handler, sharing the queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.inner.WithGroup(name))
}

func (h *AsyncHandler) derive(inner slog.Handler) *AsyncHandler {
	return &AsyncHandler{
		inner:   inner,
		queue:   h.queue,
		done:    h.done,
		stop:    h.stop,
		dropped: h.dropped,
	}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops intake and waits until queued records are written.
func (h *AsyncHandler) Close() {
	h.stop.Do(func() { close(h.queue) })
	<-h.done
}
