package convert

import (
	"strconv"

	"github.com/crewjam/rfc5424"
	"hec-relp-gateway/internal/model"
)

const (
	sdEvent     = "hec@48577"
	sdForwarded = "forwarded@48577"
	sdFields    = "fields@48577"

	maxHostnameLen = 255
	maxSDNameLen   = 32
)

// Formatter renders records as RFC5424 lines.
type Formatter struct {
	Hostname string
	AppName  string
}

func (f Formatter) Format(rec *model.LogRecord) ([]byte, error) {
	msg := rfc5424.Message{
		Priority:  rfc5424.User | rfc5424.Info,
		Timestamp: rec.Time.Time(),
		Hostname:  f.hostname(rec.Host),
		AppName:   f.AppName,
		MessageID: "HEC",
		Message:   []byte(rec.Message),
	}

	msg.AddDatum(sdEvent, "channel", rec.Channel)
	msg.AddDatum(sdEvent, "ack_id", strconv.FormatInt(rec.AckID, 10))
	msg.AddDatum(sdEvent, "time_source", rec.Time.Source())
	msg.AddDatum(sdEvent, "time_kind", rec.Time.Kind.String())
	addIfSet(&msg, sdEvent, "source", rec.Source)
	addIfSet(&msg, sdEvent, "sourcetype", rec.SourceType)
	addIfSet(&msg, sdEvent, "index", rec.Index)

	fw := rec.Forward
	addIfSet(&msg, sdForwarded, "remote_addr", fw.RemoteAddr)
	addIfSet(&msg, sdForwarded, "x_forwarded_for", fw.ForwardedFor)
	addIfSet(&msg, sdForwarded, "x_forwarded_host", fw.ForwardedHost)
	addIfSet(&msg, sdForwarded, "x_forwarded_proto", fw.ForwardedProto)
	addIfSet(&msg, sdForwarded, "request_id", fw.RequestID)

	for _, k := range sortedKeys(rec.Fields) {
		msg.AddDatum(sdFields, sdName(k), rec.Fields[k])
	}

	return msg.MarshalBinary()
}

func addIfSet(msg *rfc5424.Message, id, name, value string) {
	if value != "" {
		msg.AddDatum(id, name, value)
	}
}

func (f Formatter) hostname(override string) string {
	if validHostname(override) {
		return override
	}
	return f.Hostname
}

func validHostname(s string) bool {
	if s == "" || len(s) > maxHostnameLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 33 || s[i] > 126 {
			return false
		}
	}
	return true
}

// sdName maps an arbitrary field name onto the SD-NAME grammar: printable
// ASCII without '=', ' ', ']' or '"', at most 32 characters.
func sdName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < maxSDNameLen; i++ {
		b := s[i]
		if b < 33 || b > 126 || b == '=' || b == ']' || b == '"' {
			b = '_'
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
