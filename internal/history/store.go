package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run kinds recorded by the CLI.
const (
	KindTask    = "task"
	KindSession = "session"
)

// Run is one submitted task or session as remembered locally.
type Run struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Prompt    string    `json:"prompt,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordRun inserts a freshly submitted run.
func (s *Store) RecordRun(ctx context.Context, id, kind, prompt, url, status string) (Run, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, kind, prompt, url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, kind, nullString(prompt), nullString(url), status, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return Run{ID: id, Kind: kind, Prompt: prompt, URL: url, Status: status, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateStatus backfills the status, output, and error of a run.
func (s *Store) UpdateStatus(ctx context.Context, id, status string, output any, taskErr string) error {
	outputJSON, err := encodeJSON(output)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET status = ?, output = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, outputJSON, nullString(taskErr), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun returns the run with the given id, or sql.ErrNoRows.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, prompt, url, status, output, error, created_at, updated_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, prompt, url, status, output, error, created_at, updated_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var prompt, url, output, taskErr sql.NullString
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&run.ID, &run.Kind, &prompt, &url, &run.Status, &output, &taskErr, &createdAtStr, &updatedAtStr); err != nil {
		return Run{}, err
	}
	run.Prompt = prompt.String
	run.URL = url.String
	run.Error = taskErr.String
	if output.Valid && output.String != "" {
		var v any
		if err := json.Unmarshal([]byte(output.String), &v); err == nil {
			run.Output = v
		}
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return run, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return string(data), nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
