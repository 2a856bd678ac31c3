// Package history persists per-account checkin outcomes so consecutive
// runs can report status changes instead of just raw results.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// Open opens (and creates if necessary) the history database at path.
// ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return nil, fmt.Errorf("open history db: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// see https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	_, err = db.Exec(schema)
	if err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Outcome is one account's result in one run.
type Outcome struct {
	Platform string
	Account  string
	Status   string
	Message  string
}

// Record writes every outcome of a run under a shared run id.
func (s *Store) Record(ctx context.Context, runId string, at time.Time, outcomes []Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO checkin_results (run_id, time, platform, account, status, message)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runId, at.Unix(), o.Platform, o.Account, o.Status, o.Message,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LastStatus returns the most recent recorded status for an account
// before the given run. Returns "" when the account has no history.
func (s *Store) LastStatus(ctx context.Context, excludeRunId, platform, account string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status FROM checkin_results
		 WHERE platform = ? AND account = ? AND run_id != ?
		 ORDER BY time DESC, id DESC LIMIT 1`,
		platform, account, excludeRunId,
	)
	var status string
	err := row.Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// RunOutcomes returns every outcome recorded under a run id, in
// insertion order.
func (s *Store) RunOutcomes(ctx context.Context, runId string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, account, status, message FROM checkin_results
		 WHERE run_id = ? ORDER BY id ASC`,
		runId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		err := rows.Scan(&o.Platform, &o.Account, &o.Status, &o.Message)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
