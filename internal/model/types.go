package model

import (
	"strconv"
	"time"
)

// TimeKind tags where a ResolvedTime came from.
type TimeKind int

const (
	TimeGenerated TimeKind = iota
	TimeDouble
	TimeInteger
	TimeText
)

func (k TimeKind) String() string {
	switch k {
	case TimeGenerated:
		return "generated"
	case TimeDouble:
		return "double"
	case TimeInteger:
		return "integer"
	case TimeText:
		return "text"
	default:
		return "unknown"
	}
}

// ResolvedTime is a canonical epoch time. Nsec is always in [0, 1e9).
type ResolvedTime struct {
	Kind       TimeKind
	Sec        int64
	Nsec       int64
	Fractional bool
}

func (t ResolvedTime) Generated() bool { return t.Kind == TimeGenerated }

// Source is "generated" for fabricated timestamps and "supplied" otherwise.
func (t ResolvedTime) Source() string {
	if t.Generated() {
		return "generated"
	}
	return "supplied"
}

func (t ResolvedTime) Time() time.Time {
	return time.Unix(t.Sec, t.Nsec).UTC()
}

func (t ResolvedTime) Float() float64 {
	return float64(t.Sec) + float64(t.Nsec)/1e9
}

func (t ResolvedTime) String() string {
	if !t.Fractional {
		return strconv.FormatInt(t.Sec, 10)
	}
	return strconv.FormatFloat(t.Float(), 'f', -1, 64)
}

// WithKind returns a copy of t retagged as kind.
func (t ResolvedTime) WithKind(kind TimeKind) ResolvedTime {
	t.Kind = kind
	return t
}

// FromTime converts a wall clock reading, keeping sub-second precision.
func FromTime(tm time.Time, kind TimeKind) ResolvedTime {
	return ResolvedTime{
		Kind:       kind,
		Sec:        tm.Unix(),
		Nsec:       int64(tm.Nanosecond()),
		Fractional: tm.Nanosecond() != 0,
	}
}

// ForwardContext carries the request's forwarding headers.
type ForwardContext struct {
	RemoteAddr     string
	ForwardedFor   string
	ForwardedHost  string
	ForwardedProto string
	RequestID      string
}

type AckKey struct {
	Token   string
	Channel string
	ID      int64
}

// LogRecord is built once per accepted event and never mutated afterwards.
// Line holds the RFC5424 encoding shipped over RELP.
type LogRecord struct {
	Channel    string
	AckID      int64
	Time       ResolvedTime
	Host       string
	Source     string
	SourceType string
	Index      string
	Fields     map[string]string
	Forward    ForwardContext
	Message    string
	Line       []byte
}

// Batch is the unit handed to the sender: every record of one accepted
// submission, in submission order, sharing one ack id.
type Batch struct {
	Ack     AckKey
	Records []LogRecord
}
