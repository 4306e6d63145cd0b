package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker drains the outbound event buffer and delivers events via a Sender.
type Worker struct {
	sender Sender
	events chan Event

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a sink worker with the given buffer size.
func NewWorker(sender Sender, bufferSize int) *Worker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Worker{
		sender: sender,
		events: make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// Publish enqueues an event without blocking. If the buffer is full the
// event is dropped and counted; emission must never block a transition.
func (w *Worker) Publish(event Event) {
	select {
	case w.events <- event:
	default:
		recordDropped()
		slog.Warn("sink buffer full, dropping event",
			"kind", event.Kind,
			"aggregate_id", event.AggregateID,
		)
	}
}

// Start launches the delivery goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	slog.Info("sink worker started", "buffer", cap(w.events))
}

// Stop drains buffered events and stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	slog.Info("sink worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.drain(ctx)
			return
		case event := <-w.events:
			w.deliver(ctx, event)
		}
	}
}

// drain delivers events still buffered at shutdown.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case event := <-w.events:
			w.deliver(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, event Event) {
	start := time.Now()

	err := w.sender.Send(ctx, event)
	duration := time.Since(start)

	if err != nil {
		// Fire and forget: log and count, never retry into the lifecycle.
		recordDelivery(event.Kind, "failed", duration)
		slog.Error("failed to deliver sink event",
			"kind", event.Kind,
			"aggregate_id", event.AggregateID,
			"error", err,
		)
		return
	}

	recordDelivery(event.Kind, "success", duration)
	slog.Debug("sink event delivered",
		"kind", event.Kind,
		"aggregate_id", event.AggregateID,
		"duration", duration,
	)
}
