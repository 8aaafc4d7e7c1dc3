package codex

import (
	"encoding/json"
	"math"
	"strings"
)

// Event types emitted by codex, both on exec --json stdout and in the
// session log JSONL. Log entries wrap the event under a "payload" key.
const (
	eventThreadStarted = "thread.started"
	eventTokenCount    = "token_count"
	eventAgentMessage  = "agent_message"
	eventMessage       = "message"
)

// rawEvent is one decoded JSONL line. Fields beyond "type" stay raw so each
// parser can apply its own shape validation without failing the whole line.
type rawEvent struct {
	typ    string
	fields map[string]json.RawMessage
}

// decodeEventLine attempts to decode a single output line as a codex event.
// Lines that are not JSON objects, or that fail to decode, yield ok=false.
// A "payload" wrapper of the same shape is unwrapped one level.
func decodeEventLine(line string) (rawEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return rawEvent{}, false
	}
	ev, ok := decodeEventObject([]byte(line))
	if !ok {
		return rawEvent{}, false
	}
	if payload, found := ev.fields["payload"]; found {
		if inner, innerOK := decodeEventObject(payload); innerOK && inner.typ != "" {
			return inner, true
		}
	}
	return ev, ok
}

func decodeEventObject(data []byte) (rawEvent, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return rawEvent{}, false
	}
	ev := rawEvent{fields: fields}
	if typRaw, ok := fields["type"]; ok {
		var typ string
		if err := json.Unmarshal(typRaw, &typ); err == nil {
			ev.typ = typ
		}
	}
	return ev, true
}

// stringField returns the field decoded as a string. JSON null and missing
// fields both yield ok=false.
func (e rawEvent) stringField(key string) (string, bool) {
	raw, found := e.fields[key]
	if !found {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (e rawEvent) objectField(key string) (rawEvent, bool) {
	raw, found := e.fields[key]
	if !found {
		return rawEvent{}, false
	}
	return decodeEventObject(raw)
}

// numberField accepts only finite JSON numbers. Strings, booleans, null and
// anything non-finite are rejected.
func (e rawEvent) numberField(key string) (float64, bool) {
	raw, found := e.fields[key]
	if !found {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// boolField accepts only strict JSON booleans.
func (e rawEvent) boolField(key string) (bool, bool) {
	raw, found := e.fields[key]
	if !found {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// isNull reports whether the field is present and explicitly JSON null.
func (e rawEvent) isNull(key string) bool {
	raw, found := e.fields[key]
	return found && strings.TrimSpace(string(raw)) == "null"
}
