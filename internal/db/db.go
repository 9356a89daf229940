// Package db persists identification runs, per-tick estimates and sweep
// results to SQLite. The base schema is applied in code on open; versioned
// changes layer on top through golang-migrate (see migrate.go).
package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// baseSchema is the in-code schema applied on every open. Migrations assume
// these tables exist and only layer changes on top.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id                  TEXT PRIMARY KEY,
		model               TEXT NOT NULL,
		dim                 INTEGER NOT NULL,
		started_unix_nanos  BIGINT NOT NULL,
		ended_unix_nanos    BIGINT,
		config_json         TEXT,
		status              TEXT NOT NULL DEFAULT 'running',
		summary_json        TEXT
	);
	CREATE TABLE IF NOT EXISTS estimates (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id           TEXT NOT NULL,
		tick             BIGINT NOT NULL,
		unix_nanos       BIGINT NOT NULL,
		what_json        TEXT NOT NULL,
		innovation_json  TEXT,
		sw_diag_json     TEXT,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);
	CREATE TABLE IF NOT EXISTS sweeps (
		id                  TEXT PRIMARY KEY,
		started_unix_nanos  BIGINT NOT NULL,
		config_json         TEXT,
		results_json        TEXT,
		best_json           TEXT
	);
`

// OpenDB opens the database and applies connection pragmas but not the base
// schema. The migrate CLI uses this so migrations fully own the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers (API queries) from blocking the session's insert
	// loop; the busy timeout covers the remaining write contention.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{sqlDB}, nil
}

// NewDB opens the database, applies pragmas and ensures the base schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(baseSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply base schema: %w", err)
	}
	return db, nil
}

// Run is one identification session lifetime.
type Run struct {
	ID               string `json:"id"`
	Model            string `json:"model"`
	Dim              int    `json:"dim"`
	StartedUnixNanos int64  `json:"started_unix_nanos"`
	EndedUnixNanos   int64  `json:"ended_unix_nanos,omitempty"`
	ConfigJSON       string `json:"config_json,omitempty"`
	Status           string `json:"status"`
	SummaryJSON      string `json:"summary_json,omitempty"`
}

// Estimate is one persisted filter tick.
type Estimate struct {
	RunID      string    `json:"run_id"`
	Tick       int64     `json:"tick"`
	UnixNanos  int64     `json:"unix_nanos"`
	What       []float32 `json:"what"`
	Innovation []float32 `json:"innovation,omitempty"`
	SwDiag     []float32 `json:"sw_diag,omitempty"`
}

// Sweep is one persisted hyperparameter sweep.
type Sweep struct {
	ID               string `json:"id"`
	StartedUnixNanos int64  `json:"started_unix_nanos"`
	ConfigJSON       string `json:"config_json,omitempty"`
	ResultsJSON      string `json:"results_json,omitempty"`
	BestJSON         string `json:"best_json,omitempty"`
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(run Run) error {
	_, err := db.Exec(
		`INSERT INTO runs (id, model, dim, started_unix_nanos, config_json, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.Dim, run.StartedUnixNanos, run.ConfigJSON, "running",
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// CloseRun marks a run finished with its end time, status and summary.
func (db *DB) CloseRun(id string, endedUnixNanos int64, status, summaryJSON string) error {
	res, err := db.Exec(
		`UPDATE runs SET ended_unix_nanos = ?, status = ?, summary_json = ? WHERE id = ?`,
		endedUnixNanos, status, summaryJSON, id,
	)
	if err != nil {
		return fmt.Errorf("failed to close run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun fetches one run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(
		`SELECT id, model, dim, started_unix_nanos, COALESCE(ended_unix_nanos, 0),
		        COALESCE(config_json, ''), status, COALESCE(summary_json, '')
		 FROM runs WHERE id = ?`, id)

	var run Run
	err := row.Scan(&run.ID, &run.Model, &run.Dim, &run.StartedUnixNanos,
		&run.EndedUnixNanos, &run.ConfigJSON, &run.Status, &run.SummaryJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, model, dim, started_unix_nanos, COALESCE(ended_unix_nanos, 0),
		        COALESCE(config_json, ''), status, COALESCE(summary_json, '')
		 FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Model, &run.Dim, &run.StartedUnixNanos,
			&run.EndedUnixNanos, &run.ConfigJSON, &run.Status, &run.SummaryJSON); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InsertEstimate records one filter tick.
func (db *DB) InsertEstimate(e Estimate) error {
	whatJSON, err := json.Marshal(e.What)
	if err != nil {
		return fmt.Errorf("failed to encode estimate: %w", err)
	}
	innovationJSON, err := json.Marshal(e.Innovation)
	if err != nil {
		return fmt.Errorf("failed to encode innovation: %w", err)
	}
	swDiagJSON, err := json.Marshal(e.SwDiag)
	if err != nil {
		return fmt.Errorf("failed to encode covariance diagonal: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO estimates (run_id, tick, unix_nanos, what_json, innovation_json, sw_diag_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Tick, e.UnixNanos, string(whatJSON), string(innovationJSON), string(swDiagJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert estimate for run %s tick %d: %w", e.RunID, e.Tick, err)
	}
	return nil
}

// EstimateSeries returns all ticks of a run in tick order.
func (db *DB) EstimateSeries(runID string) ([]Estimate, error) {
	rows, err := db.Query(
		`SELECT run_id, tick, unix_nanos, what_json, COALESCE(innovation_json, 'null'), COALESCE(sw_diag_json, 'null')
		 FROM estimates WHERE run_id = ? ORDER BY tick ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []Estimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		series = append(series, e)
	}
	return series, rows.Err()
}

// LatestEstimate returns the most recent tick of a run.
func (db *DB) LatestEstimate(runID string) (*Estimate, error) {
	rows, err := db.Query(
		`SELECT run_id, tick, unix_nanos, what_json, COALESCE(innovation_json, 'null'), COALESCE(sw_diag_json, 'null')
		 FROM estimates WHERE run_id = ? ORDER BY tick DESC LIMIT 1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("no estimates for run %s", runID)
	}
	e, err := scanEstimate(rows)
	if err != nil {
		return nil, err
	}
	return &e, rows.Err()
}

func scanEstimate(rows *sql.Rows) (Estimate, error) {
	var e Estimate
	var whatJSON, innovationJSON, swDiagJSON string
	if err := rows.Scan(&e.RunID, &e.Tick, &e.UnixNanos, &whatJSON, &innovationJSON, &swDiagJSON); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(whatJSON), &e.What); err != nil {
		return e, fmt.Errorf("failed to decode estimate: %w", err)
	}
	if err := json.Unmarshal([]byte(innovationJSON), &e.Innovation); err != nil {
		return e, fmt.Errorf("failed to decode innovation: %w", err)
	}
	if err := json.Unmarshal([]byte(swDiagJSON), &e.SwDiag); err != nil {
		return e, fmt.Errorf("failed to decode covariance diagonal: %w", err)
	}
	return e, nil
}

// InsertSweep records a finished hyperparameter sweep.
func (db *DB) InsertSweep(s Sweep) error {
	_, err := db.Exec(
		`INSERT INTO sweeps (id, started_unix_nanos, config_json, results_json, best_json)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.StartedUnixNanos, s.ConfigJSON, s.ResultsJSON, s.BestJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sweep %s: %w", s.ID, err)
	}
	return nil
}

// ListSweeps returns the most recent sweeps, newest first.
func (db *DB) ListSweeps(limit int) ([]Sweep, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, started_unix_nanos, COALESCE(config_json, ''), COALESCE(results_json, ''), COALESCE(best_json, '')
		 FROM sweeps ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sweeps []Sweep
	for rows.Next() {
		var s Sweep
		if err := rows.Scan(&s.ID, &s.StartedUnixNanos, &s.ConfigJSON, &s.ResultsJSON, &s.BestJSON); err != nil {
			return nil, err
		}
		sweeps = append(sweeps, s)
	}
	return sweeps, rows.Err()
}

// AttachAdminRoutes mounts a tailsql live-SQL console and a backup download
// under /debug/. These routes are for localhost/tailnet debugging only.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://plantid.db", db.DB, &tailsql.DBOptions{
		Label: "Plantid DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}
