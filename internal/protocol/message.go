package protocol

import "time"

// Field names shared by inbound and outbound frames
const (
	FieldType         = "type"
	FieldModuleID     = "module_id"
	FieldCapabilities = "capabilities"
	FieldTimestamp    = "timestamp"
	FieldMessage      = "message"
)

// Message is one decoded JSON object. Every message carries a string "type";
// all other fields are open.
type Message map[string]any

// Type returns the message type, or "" if absent or not a string.
func (m Message) Type() string {
	t, _ := m[FieldType].(string)
	return t
}

// StringField returns the string value of field key, if present.
func (m Message) StringField(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// ModuleID returns the module_id field when the sender supplied one.
func (m Message) ModuleID() (string, bool) {
	return m.StringField(FieldModuleID)
}

// Capabilities returns the capabilities field when it is present and is a
// list of strings. Non-string entries are skipped.
func (m Message) Capabilities() ([]string, bool) {
	raw, ok := m[FieldCapabilities]
	if !ok {
		return nil, false
	}

	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		caps := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				caps = append(caps, s)
			}
		}
		return caps, true
	default:
		return nil, false
	}
}

// Timestamp formats t the way every server-originated frame carries it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
