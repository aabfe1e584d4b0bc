package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"hec-relp-gateway/internal/model"
)

// Dispatcher queues accepted batches and feeds them to a Sender from a
// single goroutine. Enqueue never blocks on the network.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []model.Batch
	inflight bool
	closed   bool
	started  bool

	done chan struct{}
}

func NewDispatcher(s Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{sender: s, logger: logger, done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the delivery loop. It connects first, then sends queued
// batches in order until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run(ctx)
}

func (d *Dispatcher) Enqueue(batch model.Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue = append(d.queue, batch)
	d.cond.Signal()
	return nil
}

// Pending counts queued batches plus the one being delivered.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	if d.inflight {
		n++
	}
	return n
}

func (d *Dispatcher) next() (model.Batch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight = false
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		return model.Batch{}, false
	}
	b := d.queue[0]
	d.queue[0] = model.Batch{}
	d.queue = d.queue[1:]
	d.inflight = true
	return b, true
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	if err := d.sender.Connect(ctx); err != nil {
		d.logger.Info("dispatcher stopped before connecting", "error", err)
		return
	}
	for {
		batch, ok := d.next()
		if !ok {
			return
		}
		if err := d.sender.Send(ctx, batch); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				d.logger.Warn("dispatcher stopped mid-batch", "channel", batch.Ack.Channel, "ackID", batch.Ack.ID, "error", err)
				return
			}
			d.logger.Error("send failed", "channel", batch.Ack.Channel, "ackID", batch.Ack.ID, "error", err)
		}
	}
}

// Drain waits until every queued batch has been delivered or ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for d.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting batches, closes the sender and waits for the
// delivery loop to exit. Batches still queued are reported and dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	left := len(d.queue)
	started := d.started
	d.cond.Broadcast()
	d.mu.Unlock()

	err := d.sender.Close()
	if started {
		<-d.done
	}
	if left > 0 {
		d.logger.Warn("dispatcher closed with undelivered batches", "count", left)
	}
	return err
}
