package redisstream

import (
	"encoding/json"
	"strconv"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// parseFields converts a flat string->string stream entry into the typed
// field map InboundEvent.Fields expects. Both shapes of §6 are accepted:
// fields flattened at the top level, or packed as a JSON string under a
// "payload" key (merged over the flattened fields so explicit top-level
// keys win).
func parseFields(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "payload" {
			continue
		}
		out[k] = coerce(v)
	}
	if payload, ok := raw["payload"]; ok && payload != "" {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
			for k, v := range decoded {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
	}
	return out
}

// coerce converts a string value to a JSON object/array, int, float, or
// leaves it as a string, per §4.12's field-parsing rule.
func coerce(v string) any {
	if v == "" {
		return v
	}
	if (v[0] == '{' && v[len(v)-1] == '}') || (v[0] == '[' && v[len(v)-1] == ']') {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// newInboundEventFromRaw builds a domain.InboundEvent from a raw stream
// entry.
func newInboundEventFromRaw(id string, raw map[string]string) domain.InboundEvent {
	fields := parseFields(raw)
	eventType, _ := fields["event_type"].(string)
	return domain.InboundEvent{ID: id, EventType: eventType, Fields: fields}
}
