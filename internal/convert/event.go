package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"hec-relp-gateway/internal/eventtime"
)

var (
	ErrEventFieldMissing = errors.New("event field is required")
	ErrEventFieldBlank   = errors.New("event field cannot be blank")
	ErrInvalidPayload    = errors.New("invalid data format")
	ErrNoData            = errors.New("no data")
)

// event is one validated envelope from a submission body.
type event struct {
	message    string
	time       eventtime.Raw
	host       string
	source     string
	sourceType string
	index      string
	fields     map[string]string
}

// EventError locates a validation failure inside a multi-event body.
type EventError struct {
	Index int
	Err   error
}

func (e *EventError) Error() string { return fmt.Sprintf("event %d: %v", e.Index, e.Err) }

func (e *EventError) Unwrap() error { return e.Err }

// parseEvents decodes every concatenated JSON object in r. Nothing is
// returned unless all of them are valid.
func parseEvents(r io.Reader) ([]event, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var events []event
	for i := 0; ; i++ {
		var envelope map[string]any
		err := dec.Decode(&envelope)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &EventError{Index: i, Err: fmt.Errorf("%w: %w", ErrInvalidPayload, err)}
		}
		if envelope == nil {
			return nil, &EventError{Index: i, Err: ErrInvalidPayload}
		}
		ev, err := parseEnvelope(envelope)
		if err != nil {
			return nil, &EventError{Index: i, Err: err}
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, ErrNoData
	}
	return events, nil
}

func parseEnvelope(envelope map[string]any) (event, error) {
	raw, ok := envelope["event"]
	if !ok {
		return event{}, ErrEventFieldMissing
	}
	message, err := eventMessage(raw)
	if err != nil {
		return event{}, err
	}

	ev := event{
		message:    message,
		time:       eventtime.Classify(envelope["time"]),
		host:       stringField(envelope, "host"),
		source:     stringField(envelope, "source"),
		sourceType: stringField(envelope, "sourcetype"),
		index:      stringField(envelope, "index"),
	}
	if fields, ok := envelope["fields"].(map[string]any); ok && len(fields) > 0 {
		ev.fields = flattenFields(fields)
	}
	return ev, nil
}

// eventMessage accepts a text event or an object carrying a text "message".
func eventMessage(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", ErrEventFieldBlank
		}
		return v, nil
	case map[string]any:
		msg, ok := v["message"].(string)
		if !ok || strings.TrimSpace(msg) == "" {
			return "", ErrEventFieldBlank
		}
		return msg, nil
	default:
		return "", ErrEventFieldBlank
	}
}

func stringField(envelope map[string]any, key string) string {
	s, _ := envelope[key].(string)
	return s
}

func flattenFields(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch value := v.(type) {
		case nil:
			continue
		case string:
			out[k] = value
		case json.Number:
			out[k] = value.String()
		default:
			data, err := json.Marshal(value)
			if err != nil {
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
