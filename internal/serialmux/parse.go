package serialmux

import "strings"

const (
	EventTypeMeasurement = "measurement"
	EventTypeControl     = "control"
	EventTypeUnknown     = "unknown"
)

// ClassifyPayload inspects a payload string and returns a simple event type
// token. Measurement lines are comma-separated numbers; control events are
// JSON objects. The classification is intentionally conservative and leaves
// full validation to the frame parser.
func ClassifyPayload(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return EventTypeUnknown
	}
	if strings.HasPrefix(trimmed, "{") {
		return EventTypeControl
	}
	if strings.Contains(trimmed, ",") {
		return EventTypeMeasurement
	}
	return EventTypeUnknown
}
