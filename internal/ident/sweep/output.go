package sweep

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/fsutil"
)

// Report is the full output of one sweep, as written to disk and as
// persisted to the sweeps table.
type Report struct {
	ID               string           `json:"id"`
	StartedUnixNanos int64            `json:"started_unix_nanos"`
	Model            string           `json:"model"`
	Dim              int              `json:"dim"`
	FrameCount       int              `json:"frame_count"`
	Axes             Axes             `json:"axes"`
	Weights          ObjectiveWeights `json:"weights"`
	Results          []ScoredResult   `json:"results"`
	Best             []ScoredResult   `json:"best"`
}

// NewReportID returns a fresh sweep identifier.
func NewReportID() string {
	return "sweep_" + uuid.NewString()
}

// BestN returns the first n entries of an already-ranked result list.
func BestN(ranked []ScoredResult, n int) []ScoredResult {
	if n > len(ranked) {
		n = len(ranked)
	}
	if n < 0 {
		n = 0
	}
	return ranked[:n]
}

// WriteReport writes the report as indented JSON.
func WriteReport(fsys fsutil.FileSystem, path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sweep report: %w", err)
	}
	data = append(data, '\n')
	if err := fsys.WriteFile(path, data, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("failed to write sweep report %s: %w", path, err)
	}
	return nil
}

// PersistReport stores the report in the sweeps table. The results column
// carries the full ranked list; the best column only the leading entry.
func PersistReport(database *db.DB, report *Report) error {
	configJSON, err := json.Marshal(map[string]any{
		"model":   report.Model,
		"dim":     report.Dim,
		"frames":  report.FrameCount,
		"axes":    report.Axes,
		"weights": report.Weights,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sweep config: %w", err)
	}
	resultsJSON, err := json.Marshal(report.Results)
	if err != nil {
		return fmt.Errorf("failed to encode sweep results: %w", err)
	}
	bestJSON := []byte("null")
	if len(report.Best) > 0 {
		if bestJSON, err = json.Marshal(report.Best[0]); err != nil {
			return fmt.Errorf("failed to encode sweep best: %w", err)
		}
	}
	return database.InsertSweep(db.Sweep{
		ID:               report.ID,
		StartedUnixNanos: report.StartedUnixNanos,
		ConfigJSON:       string(configJSON),
		ResultsJSON:      string(resultsJSON),
		BestJSON:         string(bestJSON),
	})
}
