// Package eventtime turns the loosely typed "time" field of a submission
// into a canonical epoch time.
//
// Absent or unusable values are fabricated from the channel anchor (the
// last accepted record's time) or, when the channel has no anchor yet, from
// the caller's default. Text that fails to parse follows the same
// fabricated path; the event is never rejected because of its time field.
package eventtime

import (
	"math"

	"hec-relp-gateway/internal/model"
)

// Bounds of a four-digit RFC5424 year: 0000-01-01T00:00:00Z through
// 9999-12-31T23:59:59Z.
const (
	minEpoch = -62167219200
	maxEpoch = 253402300799
)

// Resolve classifies raw and returns the resolved time. anchor may be nil.
// Supplied values outside the representable year range are treated as
// unrecognized.
func Resolve(anchor *model.ResolvedTime, raw Raw, def model.ResolvedTime) model.ResolvedTime {
	var (
		t  model.ResolvedTime
		ok bool
	)
	switch raw.Kind {
	case RawFloat:
		t, ok = fromFloat(raw.Float)
	case RawInteger:
		t, ok = model.ResolvedTime{Kind: model.TimeInteger, Sec: raw.Integer}, true
	case RawText:
		t, ok = parseText(raw.Text, base(anchor, def), def)
	}
	if ok && Representable(t) {
		return t
	}
	return generated(anchor, def)
}

// Representable reports whether t renders as an RFC5424 TIMESTAMP.
func Representable(t model.ResolvedTime) bool {
	return t.Sec >= minEpoch && t.Sec <= maxEpoch
}

func generated(anchor *model.ResolvedTime, def model.ResolvedTime) model.ResolvedTime {
	return base(anchor, def).WithKind(model.TimeGenerated)
}

func base(anchor *model.ResolvedTime, def model.ResolvedTime) model.ResolvedTime {
	if anchor != nil {
		return *anchor
	}
	return def
}

func fromFloat(f float64) (model.ResolvedTime, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return model.ResolvedTime{}, false
	}
	sec, frac := math.Modf(f)
	nsec := int64(math.Round(frac * 1e9))
	s := int64(sec)
	if nsec < 0 {
		s--
		nsec += 1e9
	}
	if nsec >= 1e9 {
		s++
		nsec -= 1e9
	}
	return model.ResolvedTime{
		Kind:       model.TimeDouble,
		Sec:        s,
		Nsec:       nsec,
		Fractional: true,
	}, true
}
