package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite persists executions in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	store, err := NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLite wraps db and ensures the schema exists.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Record stores one execution.
func (s *SQLite) Record(ctx context.Context, e Execution) error {
	args, err := encodeJSON(e.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	output, err := encodeJSON(e.Output)
	if err != nil {
		output, _ = encodeJSON(fmt.Sprint(e.Output))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (
			workflow_id, workflow_name, run_id, status, arguments_json, output_json,
			error_text, error_code, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.WorkflowID,
		e.WorkflowName,
		e.RunID,
		e.Status,
		args,
		output,
		e.Error,
		e.ErrorCode,
		normalizeTime(e.StartedAt),
		normalizeTime(e.FinishedAt),
	)
	return err
}

// List returns executions matching filter.
func (s *SQLite) List(ctx context.Context, filter Filter) ([]Execution, error) {
	query := `
		SELECT workflow_id, workflow_name, run_id, status, arguments_json, output_json,
			error_text, error_code, started_at, finished_at
		FROM workflow_executions
	`
	var (
		args  []any
		where string
	)
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.WorkflowID != "" {
		addFilter("workflow_id = ?", filter.WorkflowID)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e          Execution
			argsJSON   string
			outputJSON string
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&e.WorkflowID,
			&e.WorkflowName,
			&e.RunID,
			&e.Status,
			&argsJSON,
			&outputJSON,
			&e.Error,
			&e.ErrorCode,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if err := decodeJSON(argsJSON, &e.Arguments); err != nil {
			return nil, fmt.Errorf("decode arguments of run %s: %w", e.RunID, err)
		}
		if err := decodeJSON(outputJSON, &e.Output); err != nil {
			return nil, fmt.Errorf("decode output of run %s: %w", e.RunID, err)
		}
		if started.Valid {
			e.StartedAt = started.Time.UTC()
		}
		if finished.Valid {
			e.FinishedAt = finished.Time.UTC()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			arguments_json TEXT,
			output_json TEXT,
			error_text TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow ON workflow_executions(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_workflow_executions_run ON workflow_executions(run_id);
	`)
	return err
}
