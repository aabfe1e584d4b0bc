package eventtime

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RawKind classifies the untyped "time" field of a submission.
type RawKind int

const (
	RawAbsent RawKind = iota
	RawFloat
	RawInteger
	RawText
	RawOther
)

// Raw is a classified time value. Only the field matching Kind is set.
type Raw struct {
	Kind    RawKind
	Float   float64
	Integer int64
	Text    string
}

// Classify inspects a value produced by a json.Decoder with UseNumber set.
// Plain float64 and int values are accepted too so callers that decoded
// without UseNumber still classify correctly.
func Classify(v any) Raw {
	switch value := v.(type) {
	case nil:
		return Raw{Kind: RawAbsent}
	case json.Number:
		return classifyNumber(value.String())
	case float64:
		return classifyFloat(value)
	case int64:
		return Raw{Kind: RawInteger, Integer: value}
	case int:
		return Raw{Kind: RawInteger, Integer: int64(value)}
	case string:
		return Raw{Kind: RawText, Text: value}
	default:
		return Raw{Kind: RawOther}
	}
}

func classifyNumber(s string) Raw {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Raw{Kind: RawInteger, Integer: n}
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Raw{Kind: RawOther}
	}
	return Raw{Kind: RawFloat, Float: f}
}

func classifyFloat(f float64) Raw {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Raw{Kind: RawOther}
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return Raw{Kind: RawInteger, Integer: int64(f)}
	}
	return Raw{Kind: RawFloat, Float: f}
}
