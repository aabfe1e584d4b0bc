package eventtime

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"hec-relp-gateway/internal/model"
)

// parseText accepts, in order: "±<duration>" against base, unsigned epoch
// seconds written as text, "now" and "now±<duration>" against def, and any
// absolute timestamp dateparse recognizes (interpreted in UTC when the
// text carries no zone). A leading sign always means an offset, so offsets
// need a unit: "+30" is rejected rather than read as epoch 30.
func parseText(text string, base, def model.ResolvedTime) (model.ResolvedTime, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return model.ResolvedTime{}, false
	}
	if s[0] == '+' || s[0] == '-' {
		return offset(base, s)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.ResolvedTime{Kind: model.TimeText, Sec: n}, true
	}
	if isDecimal(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if t, ok := fromFloat(f); ok {
				return t.WithKind(model.TimeText), true
			}
		}
	}

	lower := strings.ToLower(s)
	if lower == "now" {
		return def.WithKind(model.TimeText), true
	}
	if rest, ok := strings.CutPrefix(lower, "now"); ok {
		return offset(def, strings.TrimSpace(rest))
	}

	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return model.ResolvedTime{}, false
	}
	return model.FromTime(parsed, model.TimeText), true
}

func offset(from model.ResolvedTime, expr string) (model.ResolvedTime, bool) {
	if len(expr) < 2 || (expr[0] != '+' && expr[0] != '-') {
		return model.ResolvedTime{}, false
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		return model.ResolvedTime{}, false
	}
	shifted := from.Time().Add(d)
	t := model.FromTime(shifted, model.TimeText)
	t.Fractional = from.Fractional || t.Nsec != 0
	return t, true
}

func isDecimal(s string) bool {
	digits := 0
	dots := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots == 1
}
