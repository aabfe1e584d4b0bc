package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/hub"
	"hec-relp-gateway/internal/model"
	"hec-relp-gateway/internal/store"
)

type fakeTransport struct {
	mu              sync.Mutex
	connectFailures int
	connects        int
	disconnects     int
	commits         [][]string
	nack            map[string]int
	breakAfter      map[string]bool
	sent            map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nack: map[string]int{}, breakAfter: map[string]bool{}, sent: map[string]int{}}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectFailures > 0 {
		f.connectFailures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeTransport) Commit(ctx context.Context, payloads [][]byte) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := make([]string, 0, len(payloads))
	acks := make([]bool, len(payloads))
	for i, p := range payloads {
		s := string(p)
		call = append(call, s)
		f.sent[s]++
		if f.breakAfter[s] {
			delete(f.breakAfter, s)
			f.commits = append(f.commits, call)
			return acks, errors.New("connection reset")
		}
		if f.nack[s] > 0 {
			f.nack[s]--
			continue
		}
		acks[i] = true
	}
	f.commits = append(f.commits, call)
	return acks, nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

type recordingCommitter struct {
	mu   sync.Mutex
	keys []model.AckKey
}

func (c *recordingCommitter) MarkCommitted(key model.AckKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
}

func (c *recordingCommitter) snapshot() []model.AckKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.AckKey(nil), c.keys...)
}

func batchOf(id int64, lines ...string) model.Batch {
	b := model.Batch{Ack: model.AckKey{Token: "tok", Channel: "c1", ID: id}}
	for _, l := range lines {
		b.Records = append(b.Records, model.LogRecord{Channel: "c1", AckID: id, Line: []byte(l)})
	}
	return b
}

func TestSend_RetriesOnlyUnacknowledgedRecords(t *testing.T) {
	tr := newFakeTransport()
	tr.nack["r2"] = 1
	committer := &recordingCommitter{}
	s := New(tr, committer, Options{ReconnectInterval: time.Millisecond})
	defer s.Close()

	if err := s.Send(context.Background(), batchOf(7, "r1", "r2", "r3")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(tr.commits) != 2 {
		t.Fatalf("expected 2 commit attempts, got %v", tr.commits)
	}
	if len(tr.commits[1]) != 1 || tr.commits[1][0] != "r2" {
		t.Fatalf("expected retry of r2 only, got %v", tr.commits[1])
	}
	if tr.sent["r1"] != 1 || tr.sent["r3"] != 1 || tr.sent["r2"] != 2 {
		t.Fatalf("unexpected send counts %v", tr.sent)
	}
	if tr.disconnects != 1 || tr.connects != 2 {
		t.Fatalf("expected one teardown and reconnect, got %d/%d", tr.disconnects, tr.connects)
	}
	keys := committer.snapshot()
	if len(keys) != 1 || keys[0].ID != 7 {
		t.Fatalf("expected ack 7 committed once, got %v", keys)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected connected, got %v", s.State())
	}
}

func TestSend_TransportFailureResendsUnconfirmed(t *testing.T) {
	tr := newFakeTransport()
	tr.breakAfter["r2"] = true
	committer := &recordingCommitter{}
	s := New(tr, committer, Options{ReconnectInterval: time.Millisecond})
	defer s.Close()

	if err := s.Send(context.Background(), batchOf(1, "r1", "r2", "r3")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.commits) != 2 {
		t.Fatalf("expected 2 commit attempts, got %v", tr.commits)
	}
	retry := tr.commits[1]
	if len(retry) != 2 || retry[0] != "r2" || retry[1] != "r3" {
		t.Fatalf("expected r2 and r3 resent, got %v", retry)
	}
	if len(committer.snapshot()) != 1 {
		t.Fatalf("expected one commit notification")
	}
}

func TestConnect_RetriesWithFixedInterval(t *testing.T) {
	tr := newFakeTransport()
	tr.connectFailures = 3
	s := New(tr, nil, Options{ReconnectInterval: time.Millisecond})
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tr.connects != 4 {
		t.Fatalf("expected 4 attempts, got %d", tr.connects)
	}
}

func TestClose_InterruptsRetryLoop(t *testing.T) {
	tr := newFakeTransport()
	tr.connectFailures = 1 << 30
	s := New(tr, nil, Options{ReconnectInterval: 5 * time.Millisecond})

	errc := make(chan error, 1)
	go func() { errc <- s.Send(context.Background(), batchOf(1, "r1")) }()

	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send did not return after Close")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %v", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	tr := newFakeTransport()
	committer := &recordingCommitter{}
	s := New(tr, committer, Options{ReconnectInterval: time.Millisecond})
	d := NewDispatcher(s, nil)
	d.Start(context.Background())

	for i := int64(0); i < 3; i++ {
		if err := d.Enqueue(batchOf(i, "line")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	keys := committer.snapshot()
	if len(keys) != 3 {
		t.Fatalf("expected 3 commits, got %v", keys)
	}
	for i, k := range keys {
		if k.ID != int64(i) {
			t.Fatalf("expected in-order delivery, got %v", keys)
		}
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Enqueue(batchOf(9, "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcher_CloseWithoutStart(t *testing.T) {
	d := NewDispatcher(New(newFakeTransport(), nil, Options{}), nil)
	if err := d.Enqueue(batchOf(1, "x")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if d.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", d.Pending())
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type stalledWriter struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (w *stalledWriter) Write([]byte) error {
	<-w.closed
	return errors.New("closed")
}

func (w *stalledWriter) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

func TestSend_StalledSubscriberDoesNotDelayDelivery(t *testing.T) {
	st := store.New()
	h := hub.New()
	tracker := ack.New(st, h, nil)

	stalled := &stalledWriter{closed: make(chan struct{})}
	defer stalled.Close()
	h.Register(&hub.Connection{Token: "tok", Writer: stalled})

	const n = 200
	for i := 0; i < n; i++ {
		err := st.UpdateChannel("tok", "c1", func(ch *store.Channel) error {
			tracker.Issue(ch)
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateChannel: %v", err)
		}
	}

	s := New(newFakeTransport(), tracker, Options{ReconnectInterval: time.Millisecond})
	start := time.Now()
	for i := int64(0); i < n; i++ {
		if err := s.Send(context.Background(), batchOf(i, "line")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("delivery stalled behind subscriber: %v", elapsed)
	}

	statuses, err := tracker.Query("tok", "c1", []int64{0, n - 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if statuses[0] != store.AckCommitted || statuses[n-1] != store.AckCommitted {
		t.Fatalf("expected all committed, got %v", statuses)
	}
}
