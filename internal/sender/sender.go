// Package sender delivers record batches to the downstream collector with
// at-least-once semantics.
//
// A Sender retries forever: transport failures are absorbed, the
// connection is rebuilt after a fixed interval, and only records the peer
// has not acknowledged are sent again. Records whose acknowledgement was
// lost with the connection are resent, so the peer may see duplicates.
package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hec-relp-gateway/internal/model"
)

var ErrClosed = errors.New("sender closed")

type Sender interface {
	// Connect blocks until the transport is up or the sender is closed.
	Connect(ctx context.Context) error
	// Send returns once every record of batch is acknowledged.
	Send(ctx context.Context, batch model.Batch) error
	Close() error
}

// Transport is one outbound connection. Commit reports per-payload
// acknowledgement; a non-nil error means the connection must be rebuilt.
type Transport interface {
	Connect(ctx context.Context) error
	Commit(ctx context.Context, payloads [][]byte) ([]bool, error)
	Disconnect() error
}

// Committer is told when a batch's ack id has been delivered.
type Committer interface {
	MarkCommitted(key model.AckKey)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Options struct {
	// ReconnectInterval is the fixed pause between connection attempts.
	ReconnectInterval time.Duration
	Logger            *slog.Logger
}

// RELPSender drives a Transport through the connect/commit state machine.
// All transport use happens under mu, so there is exactly one writer.
type RELPSender struct {
	mu        sync.Mutex
	transport Transport
	committer Committer
	interval  time.Duration
	logger    *slog.Logger

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ Sender = (*RELPSender)(nil)

func New(transport Transport, committer Committer, opts Options) *RELPSender {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RELPSender{
		transport: transport,
		committer: committer,
		interval:  opts.ReconnectInterval,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *RELPSender) State() State { return State(s.state.Load()) }

func (s *RELPSender) setState(st State) {
	if s.State() == StateClosed {
		return
	}
	s.state.Store(int32(st))
}

// scope derives a context that also ends when the sender is closed.
func (s *RELPSender) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *RELPSender) stopErr(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *RELPSender) wait(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return s.stopErr(ctx)
	case <-timer.C:
		return nil
	}
}

func (s *RELPSender) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.scope(ctx)
	defer cancel()
	return s.connectLocked(ctx)
}

func (s *RELPSender) connectLocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := s.stopErr(ctx); err != nil {
			return err
		}
		s.setState(StateConnecting)
		err := s.transport.Connect(ctx)
		if err == nil {
			s.setState(StateConnected)
			s.logger.Info("relp connected", "attempt", attempt)
			return nil
		}
		s.setState(StateDisconnected)
		if stop := s.stopErr(ctx); stop != nil {
			return stop
		}
		s.logger.Warn("relp connect failed", "attempt", attempt, "retryIn", s.interval, "error", err)
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// Send commits batch, retrying the unacknowledged remainder on a fresh
// connection until nothing is left. It only fails when ctx ends or the
// sender is closed. The committer is told after the connection is
// released.
func (s *RELPSender) Send(ctx context.Context, batch model.Batch) error {
	if err := s.commit(ctx, batch); err != nil {
		return err
	}
	if s.committer != nil {
		s.committer.MarkCommitted(batch.Ack)
	}
	return nil
}

func (s *RELPSender) commit(ctx context.Context, batch model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.scope(ctx)
	defer cancel()

	remaining := make([]int, len(batch.Records))
	for i := range remaining {
		remaining[i] = i
	}

	for attempt := 1; len(remaining) > 0; attempt++ {
		if s.State() != StateConnected {
			if err := s.connectLocked(ctx); err != nil {
				return err
			}
		}

		payloads := make([][]byte, len(remaining))
		for i, idx := range remaining {
			payloads[i] = batch.Records[idx].Line
		}

		s.setState(StateSending)
		acks, err := s.transport.Commit(ctx, payloads)

		unacked := remaining[:0:0]
		for i, idx := range remaining {
			if i < len(acks) && acks[i] {
				continue
			}
			unacked = append(unacked, idx)
		}
		remaining = unacked

		if err == nil && len(remaining) == 0 {
			s.setState(StateConnected)
			break
		}

		s.logger.Warn("relp commit incomplete",
			"channel", batch.Ack.Channel,
			"ackID", batch.Ack.ID,
			"attempt", attempt,
			"unacknowledged", len(remaining),
			"error", err,
		)
		_ = s.transport.Disconnect()
		s.setState(StateDisconnected)
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the transport down and moves to StateClosed. An in-flight
// Send is interrupted and returns ErrClosed.
func (s *RELPSender) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeErr = s.transport.Disconnect()
		s.state.Store(int32(StateClosed))
	})
	return s.closeErr
}
