package store

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"hec-relp-gateway/internal/model"
)

// DefaultChannel is used when a submission names no channel.
const DefaultChannel = "defaultchannel"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrChannelNotFound = errors.New("channel not found")

	errSessionEvicted = errors.New("session evicted")
)

const shardCount = 32

// DefaultRetainCommitted is the per-channel number of committed ack ids
// kept queryable when Options.RetainCommitted is zero.
const DefaultRetainCommitted = 10000

// Store maps caller tokens to sessions. Sessions are spread over shards so
// callers with different tokens never share a lock.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
	logger *slog.Logger
	retain int

	stateFile string
	persistMu sync.Mutex
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

type Options struct {
	// StateFile, when set, holds the CBOR snapshot of per-channel ack
	// counters. It is loaded on construction and written by Save.
	StateFile string
	// RetainCommitted caps the committed ack ids remembered per channel.
	// Older ids are forgotten and report AckUnknown.
	RetainCommitted int
	Now             func() time.Time
	Logger          *slog.Logger
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		now:       opts.Now,
		logger:    opts.Logger,
		retain:    opts.RetainCommitted,
		stateFile: opts.StateFile,
	}
	if s.retain <= 0 {
		s.retain = DefaultRetainCommitted
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}

	if s.stateFile != "" {
		if err := s.loadState(s.stateFile); err != nil {
			s.logger.Warn("state snapshot: load failed", "path", s.stateFile, "error", err)
		}
	}
	return s
}

func (s *Store) shardFor(token string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return s.shards[h.Sum32()%shardCount]
}

// GetOrCreateSession returns the session for token, creating an empty one
// on first sight.
func (s *Store) GetOrCreateSession(token string) *Session {
	sh := s.shardFor(token)

	sh.mu.RLock()
	sess, ok := sh.sessions[token]
	sh.mu.RUnlock()
	if ok {
		return sess
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess, ok := sh.sessions[token]; ok {
		return sess
	}
	sess = newSession(token, s.now, s.retain)
	sh.sessions[token] = sess
	return sess
}

func (s *Store) GetSession(token string) (*Session, error) {
	sh := s.shardFor(token)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sess, ok := sh.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// UpdateChannel runs fn with the named channel of token's session, creating
// the session and channel as needed. fn runs under the session lock, so
// everything it does is atomic with respect to other callers on the same
// token. The session is touched.
func (s *Store) UpdateChannel(token, channel string, fn func(*Channel) error) error {
	for {
		sess := s.GetOrCreateSession(token)
		err := sess.withChannel(channel, true, fn)
		if errors.Is(err, errSessionEvicted) {
			continue
		}
		return err
	}
}

// ViewChannel runs fn with an existing channel. It never creates state and
// reports ErrSessionNotFound or ErrChannelNotFound. The session is touched.
func (s *Store) ViewChannel(token, channel string, fn func(*Channel) error) error {
	sess, err := s.GetSession(token)
	if err != nil {
		return err
	}
	err = sess.withChannel(channel, false, fn)
	if errors.Is(err, errSessionEvicted) {
		return ErrSessionNotFound
	}
	return err
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Sweep removes sessions idle for longer than idle. Sessions still holding
// pending acks are kept so their delivery state stays queryable.
func (s *Store) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-idle)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, sess := range sh.sessions {
			if sess.evictIfIdle(cutoff) {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				s.logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

func (s *Store) allSessions() []*Session {
	var result []*Session
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			result = append(result, sess)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].token < result[j].token })
	return result
}

// Session is the state kept for one caller token.
type Session struct {
	mu sync.Mutex

	token      string
	id         string
	createdAt  time.Time
	lastAccess time.Time
	channels   map[string]*Channel
	evicted    bool
	retain     int

	now func() time.Time
}

func newSession(token string, now func() time.Time, retain int) *Session {
	t := now()
	return &Session{
		token:      token,
		id:         uuid.NewString(),
		createdAt:  t,
		lastAccess: t,
		channels:   make(map[string]*Channel),
		retain:     retain,
		now:        now,
	}
}

func (s *Session) Token() string { return s.token }

// ID identifies this incarnation of the session; a token whose session was
// evicted gets a new ID on its next submission.
func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Touch resets the idle-eviction clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = s.now()
}

func (s *Session) HasChannel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[name]
	return ok
}

// AddChannel inserts name; adding an existing channel is a no-op.
func (s *Session) AddChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addChannelLocked(name)
}

func (s *Session) addChannelLocked(name string) *Channel {
	ch, ok := s.channels[name]
	if !ok {
		ch = newChannel(name, s.retain)
		s.channels[name] = ch
	}
	return ch
}

// Channels returns the channel names in sorted order.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) withChannel(name string, create bool, fn func(*Channel) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return errSessionEvicted
	}
	s.lastAccess = s.now()

	ch, ok := s.channels[name]
	if !ok {
		if !create {
			return ErrChannelNotFound
		}
		ch = s.addChannelLocked(name)
	}
	return fn(ch)
}

func (s *Session) evictIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastAccess.Before(cutoff) {
		return false
	}
	for _, ch := range s.channels {
		if ch.acks.pending > 0 {
			return false
		}
	}
	s.evicted = true
	return true
}

// Channel is a named stream inside a session. Its methods must only be
// called from within UpdateChannel or ViewChannel callbacks.
type Channel struct {
	name string
	last *model.LogRecord
	acks *ackLog
}

func newChannel(name string, retain int) *Channel {
	return &Channel{name: name, acks: newAckLog(retain)}
}

func (c *Channel) Name() string { return c.name }

// Anchor is the resolved time of the last accepted record, or nil.
func (c *Channel) Anchor() *model.ResolvedTime {
	if c.last == nil {
		return nil
	}
	t := c.last.Time
	return &t
}

// LastRecord returns the last accepted record, or nil.
func (c *Channel) LastRecord() *model.LogRecord { return c.last }

// Advance makes rec the channel's anchor.
func (c *Channel) Advance(rec *model.LogRecord) { c.last = rec }

// AllocateAck returns the next ack id and advances the counter.
func (c *Channel) AllocateAck() int64 { return c.acks.allocate() }

// NextAckID returns the id AllocateAck would hand out next.
func (c *Channel) NextAckID() int64 { return c.acks.next }

func (c *Channel) MarkPending(id int64) { c.acks.markPending(id) }

// MarkCommitted reports whether id moved from pending to committed.
func (c *Channel) MarkCommitted(id int64) bool { return c.acks.markCommitted(id) }

func (c *Channel) AckStatus(id int64) AckStatus { return c.acks.status(id) }

// TrackedAcks is the number of ids whose status is still remembered.
func (c *Channel) TrackedAcks() int { return c.acks.retained() }

// PendingAcks is the number of ids handed to the sender and not yet
// confirmed.
func (c *Channel) PendingAcks() int { return c.acks.pending }
