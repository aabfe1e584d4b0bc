package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const stateVersion = 1

// persistedState is the on-disk snapshot. Only ack counters survive a
// restart so ids are never reissued; statuses and anchors do not.
type persistedState struct {
	Version  int                `cbor:"version"`
	SavedAt  int64              `cbor:"savedAt"`
	Channels []persistedChannel `cbor:"channels"`
}

type persistedChannel struct {
	Token     string `cbor:"token"`
	Channel   string `cbor:"channel"`
	NextAckID int64  `cbor:"nextAckId"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

func (s *Store) loadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var state persistedState
	if err := decMode.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Version != stateVersion {
		return errors.New("unsupported state snapshot version")
	}

	for _, pc := range state.Channels {
		if pc.Token == "" || pc.Channel == "" || pc.NextAckID < 0 {
			continue
		}
		sess := s.GetOrCreateSession(pc.Token)
		sess.mu.Lock()
		ch := sess.addChannelLocked(pc.Channel)
		if pc.NextAckID > ch.acks.next {
			ch.acks.next = pc.NextAckID
		}
		sess.mu.Unlock()
	}
	return nil
}

func (s *Store) snapshot() persistedState {
	state := persistedState{Version: stateVersion, SavedAt: s.now().UnixMilli()}
	for _, sess := range s.allSessions() {
		sess.mu.Lock()
		for _, name := range sortedKeys(sess.channels) {
			state.Channels = append(state.Channels, persistedChannel{
				Token:     sess.token,
				Channel:   name,
				NextAckID: sess.channels[name].acks.next,
			})
		}
		sess.mu.Unlock()
	}
	return state
}

// Save writes the snapshot to the configured state file. It is a no-op when
// no state file is configured.
func (s *Store) Save() error {
	path := s.stateFile
	if path == "" {
		return nil
	}
	state := s.snapshot()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := encMode.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// RunSnapshots saves the state every interval until ctx is done.
func (s *Store) RunSnapshots(ctx context.Context, interval time.Duration) {
	if s.stateFile == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Warn("state snapshot: save failed", "path", s.stateFile, "error", err)
			}
		}
	}
}

func sortedKeys(m map[string]*Channel) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
