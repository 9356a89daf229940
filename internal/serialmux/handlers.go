package serialmux

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/kestrel-controls/plantid/internal/frames"
)

// LineHandler consumes classified serial feed lines. The identification
// session implements it; tests use small fakes.
type LineHandler interface {
	// HandleFrame processes one parsed measurement tick.
	HandleFrame(*frames.Frame) error
	// HandleControl processes a frontend control event such as a reset
	// request. The decoded JSON object is passed through untouched.
	HandleControl(event string, fields map[string]any) error
}

// ControlEvent is the JSON control message emitted by the frontend between
// measurement lines, e.g. {"event":"reset"}.
type ControlEvent struct {
	Event string `json:"event"`
}

// HandleEvent classifies a serial line and dispatches it to the handler.
// Unknown lines are logged and dropped so frontend banners and echoes never
// stall the feed.
func HandleEvent(h LineHandler, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeMeasurement:
		frame, err := frames.ParseCSV(payload)
		if err != nil {
			return fmt.Errorf("failed to parse measurement line: %w", err)
		}
		if err := h.HandleFrame(frame); err != nil {
			return fmt.Errorf("failed to handle measurement: %w", err)
		}
	case EventTypeControl:
		var ev ControlEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("failed to unmarshal control event: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return fmt.Errorf("failed to unmarshal control fields: %w", err)
		}
		if err := h.HandleControl(ev.Event, fields); err != nil {
			return fmt.Errorf("failed to handle control event %q: %w", ev.Event, err)
		}
	default:
		log.Printf("unknown serial line: %q", payload)
	}
	return nil
}
