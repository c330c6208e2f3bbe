package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run records one spot-finding pass over an image: which policy ran, with
// which parameters, and how many pixels it flagged as signal.
type Run struct {
	RunID        string          `json:"run_id"`
	ImagePath    string          `json:"image_path"`
	Policy       string          `json:"policy"`
	ParamsJSON   json.RawMessage `json:"params_json,omitempty"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	TotalPixels  int             `json:"total_pixels"`
	SignalPixels int             `json:"signal_pixels"`
	CreatedAt    int64           `json:"created_at"`
}

// FilterPass records one reflection filter applied during a run, in order.
type FilterPass struct {
	PassID      string `json:"pass_id"`
	RunID       string `json:"run_id"`
	Seq         int    `json:"seq"`
	Name        string `json:"name"`
	InputCount  int    `json:"input_count"`
	Invalidated int    `json:"invalidated"`
	Survivors   int    `json:"survivors"`
}

// RunStore provides persistence for runs and their filter passes.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// InsertRun persists a new run. If RunID is empty, a UUID is generated.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (
				run_id, image_path, policy, params_json,
				width, height, total_pixels, signal_pixels, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.ImagePath, run.Policy, paramsStr,
			run.Width, run.Height, run.TotalPixels, run.SignalPixels, run.CreatedAt,
		)
		return err
	})
}

// GetRun returns a single run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, image_path, policy, params_json,
		       width, height, total_pixels, signal_pixels, created_at
		FROM runs
		WHERE run_id = ?`, runID)

	var r Run
	var paramsStr sql.NullString
	err := row.Scan(
		&r.RunID, &r.ImagePath, &r.Policy, &paramsStr,
		&r.Width, &r.Height, &r.TotalPixels, &r.SignalPixels, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, image_path, policy, params_json,
		       width, height, total_pixels, signal_pixels, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var paramsStr sql.NullString
		if err := rows.Scan(
			&r.RunID, &r.ImagePath, &r.Policy, &paramsStr,
			&r.Width, &r.Height, &r.TotalPixels, &r.SignalPixels, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if paramsStr.Valid {
			r.ParamsJSON = json.RawMessage(paramsStr.String)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, via the schema's cascade, its filter passes.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// InsertFilterPass persists a filter pass. If PassID is empty, a UUID is
// generated.
func (s *RunStore) InsertFilterPass(pass *FilterPass) error {
	if pass.PassID == "" {
		pass.PassID = uuid.New().String()
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO filter_passes (
				pass_id, run_id, seq, name, input_count, invalidated, survivors
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			pass.PassID, pass.RunID, pass.Seq, pass.Name,
			pass.InputCount, pass.Invalidated, pass.Survivors,
		)
		return err
	})
}

// ListFilterPasses returns the passes of a run in application order.
func (s *RunStore) ListFilterPasses(runID string) ([]*FilterPass, error) {
	rows, err := s.db.Query(`
		SELECT pass_id, run_id, seq, name, input_count, invalidated, survivors
		FROM filter_passes
		WHERE run_id = ?
		ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query filter passes: %w", err)
	}
	defer rows.Close()

	var passes []*FilterPass
	for rows.Next() {
		var p FilterPass
		if err := rows.Scan(
			&p.PassID, &p.RunID, &p.Seq, &p.Name,
			&p.InputCount, &p.Invalidated, &p.Survivors,
		); err != nil {
			return nil, fmt.Errorf("scan filter pass row: %w", err)
		}
		passes = append(passes, &p)
	}
	return passes, rows.Err()
}
