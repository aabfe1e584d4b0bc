// Package convert validates collector submissions and turns them into
// RFC5424 records queued for delivery.
package convert

import (
	"fmt"
	"io"
	"time"

	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/eventtime"
	"hec-relp-gateway/internal/model"
	"hec-relp-gateway/internal/store"
)

// Handoff accepts a batch for asynchronous delivery. It must not block on
// network I/O.
type Handoff interface {
	Enqueue(batch model.Batch) error
}

type Submission struct {
	Token      string
	Channel    string
	Body       io.Reader
	Forward    model.ForwardContext
	ReceivedAt time.Time
}

type Result struct {
	AckID  int64
	Events int
}

type Converter struct {
	Store     *store.Store
	Tracker   *ack.Tracker
	Handoff   Handoff
	Formatter Formatter
	Now       func() time.Time
}

// Convert validates every event in sub before touching any state. On
// success all events share one freshly issued ack id and are queued as a
// single batch; the ack id is pending until the sender confirms delivery.
func (c *Converter) Convert(sub Submission) (Result, error) {
	if sub.Token == "" {
		return Result{}, auth.ErrAuthenticationTokenMissing
	}
	channel := sub.Channel
	if channel == "" {
		channel = store.DefaultChannel
	}

	events, err := parseEvents(sub.Body)
	if err != nil {
		return Result{}, err
	}

	received := sub.ReceivedAt
	if received.IsZero() {
		received = c.now()
	}
	def := model.FromTime(received, model.TimeGenerated)

	var result Result
	err = c.Store.UpdateChannel(sub.Token, channel, func(ch *store.Channel) error {
		ackID := ch.NextAckID()
		anchor := ch.Anchor()

		records := make([]model.LogRecord, len(events))
		for i, ev := range events {
			resolved := eventtime.Resolve(anchor, ev.time, def)
			rec := model.LogRecord{
				Channel:    channel,
				AckID:      ackID,
				Time:       resolved,
				Host:       ev.host,
				Source:     ev.source,
				SourceType: ev.sourceType,
				Index:      ev.index,
				Fields:     ev.fields,
				Forward:    sub.Forward,
				Message:    ev.message,
			}
			line, err := c.Formatter.Format(&rec)
			if err != nil {
				return fmt.Errorf("format event %d: %w", i, err)
			}
			rec.Line = line
			records[i] = rec
			anchor = &records[i].Time
		}

		batch := model.Batch{
			Ack:     model.AckKey{Token: sub.Token, Channel: channel, ID: ackID},
			Records: records,
		}
		// MarkCommitted needs the session lock, so the id is pending before
		// the sender can report it delivered.
		if err := c.Handoff.Enqueue(batch); err != nil {
			return err
		}
		if issued := c.Tracker.Issue(ch); issued != ackID {
			panic(fmt.Sprintf("convert: ack id drift on %q: peeked %d, issued %d", channel, ackID, issued))
		}
		ch.Advance(&records[len(records)-1])

		result = Result{AckID: ackID, Events: len(records)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (c *Converter) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
