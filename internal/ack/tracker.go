// Package ack allocates per-channel acknowledgement ids and answers
// delivery-status queries for them.
package ack

import (
	"errors"
	"io"
	"log/slog"

	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/model"
	"hec-relp-gateway/internal/store"
)

var ErrChannelNotProvided = errors.New("channel not provided")

// Notifier is told about every ack that transitions to committed.
type Notifier interface {
	AckCommitted(key model.AckKey)
}

type Tracker struct {
	Store    *store.Store
	Notifier Notifier
	Logger   *slog.Logger
}

func New(st *store.Store, notifier Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{Store: st, Notifier: notifier, Logger: logger}
}

func validate(token, channel string) error {
	if token == "" {
		return auth.ErrAuthenticationTokenMissing
	}
	if channel == "" {
		return ErrChannelNotProvided
	}
	return nil
}

// Allocate returns the channel's next ack id, creating the session and
// channel on first use.
func (t *Tracker) Allocate(token, channel string) (int64, error) {
	if err := validate(token, channel); err != nil {
		return 0, err
	}
	var id int64
	err := t.Store.UpdateChannel(token, channel, func(ch *store.Channel) error {
		id = ch.AllocateAck()
		return nil
	})
	return id, err
}

// Issue allocates the next id on ch and records it pending in one step. It
// must be called from inside a store.UpdateChannel callback.
func (t *Tracker) Issue(ch *store.Channel) int64 {
	id := ch.AllocateAck()
	ch.MarkPending(id)
	return id
}

func (t *Tracker) RecordPending(token, channel string, id int64) error {
	if err := validate(token, channel); err != nil {
		return err
	}
	return t.Store.ViewChannel(token, channel, func(ch *store.Channel) error {
		ch.MarkPending(id)
		return nil
	})
}

// MarkCommitted records key as delivered. Committing an id twice, or one
// whose session is gone, is a no-op.
func (t *Tracker) MarkCommitted(key model.AckKey) {
	transitioned := false
	err := t.Store.ViewChannel(key.Token, key.Channel, func(ch *store.Channel) error {
		transitioned = ch.MarkCommitted(key.ID)
		return nil
	})
	if err != nil {
		t.Logger.Debug("ack commit for unknown channel", "channel", key.Channel, "ackID", key.ID, "error", err)
		return
	}
	if transitioned && t.Notifier != nil {
		t.Notifier.AckCommitted(key)
	}
}

// Query reports the status of each requested id. Ids never handed to the
// sender on this channel are reported as store.AckUnknown.
func (t *Tracker) Query(token, channel string, ids []int64) (map[int64]store.AckStatus, error) {
	if err := validate(token, channel); err != nil {
		return nil, err
	}
	result := make(map[int64]store.AckStatus, len(ids))
	err := t.Store.ViewChannel(token, channel, func(ch *store.Channel) error {
		for _, id := range ids {
			result[id] = ch.AckStatus(id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
