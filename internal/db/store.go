package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusAborted     = "aborted"
	StatusInterrupted = "interrupted"
)

// Store records runs, their turns and a timeline of events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is a row of the runs table.
type RunRecord struct {
	RunID       string
	CreatedAt   string
	Scenario    string
	Mode        string
	Status      string
	CurrentTurn int
	Verdict     string
	RunDir      string
}

// TurnRecord is a row of the turns table.
type TurnRecord struct {
	RunID     string
	TurnIndex int
	Status    string
	ExitCode  int
	Lines     int
	TurnDir   string
	StartedAt string
	EndedAt   string
	Error     string
}

// Update contains updates for a run record.
type Update struct {
	CurrentTurn int
	Status      string
	Verdict     *string
}

// Event is a timeline entry for a run.
type Event struct {
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, scenario, mode, runDir string) error {
	return s.CreateRunAt(ctx, runID, scenario, mode, runDir, time.Now())
}

// CreateRunAt is CreateRun with an explicit creation time, used when
// importing runs found on disk.
func (s *Store) CreateRunAt(ctx context.Context, runID, scenario, mode, runDir string, at time.Time) error {
	createdAt := at.UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, scenario, mode, status, current_turn, verdict, run_dir)
		VALUES(?, ?, ?, ?, ?, 0, NULL, ?)`,
		runID, createdAt, scenario, mode, StatusRunning, runDir); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, "run_started", "run started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// UpdateRun applies a run update and optional event without inserting a turn.
func (s *Store) UpdateRun(ctx context.Context, runID string, update Update, event *Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin update run: %w", err)
	}
	if event != nil {
		if err := s.insertEvent(ctx, tx, runID, event.Type, event.Message, event.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := updateRun(ctx, tx, runID, update); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update run: %w", err)
	}
	return nil
}

// CommitTurn inserts the turn record, events, and updates the run in one transaction.
func (s *Store) CommitTurn(ctx context.Context, turn TurnRecord, events []Event, update Update) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit turn: %w", err)
	}
	if err := insertTurn(ctx, tx, turn); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, ev := range events {
		if err := s.insertEvent(ctx, tx, turn.RunID, ev.Type, ev.Message, ev.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := updateRun(ctx, tx, turn.RunID, update); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// InsertTurn records a turn without touching the run row. Existing turns
// are left as they are.
func (s *Store) InsertTurn(ctx context.Context, turn TurnRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO turns(run_id, turn_index, status, exit_code, lines, turn_dir, started_at, ended_at, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.RunID, turn.TurnIndex, turn.Status, turn.ExitCode, turn.Lines, turn.TurnDir,
		nullableString(turn.StartedAt), nullableString(turn.EndedAt), nullableString(turn.Error))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func insertTurn(ctx context.Context, tx *sql.Tx, turn TurnRecord) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO turns(run_id, turn_index, status, exit_code, lines, turn_dir, started_at, ended_at, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.RunID, turn.TurnIndex, turn.Status, turn.ExitCode, turn.Lines, turn.TurnDir,
		nullableString(turn.StartedAt), nullableString(turn.EndedAt), nullableString(turn.Error)); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func updateRun(ctx context.Context, tx *sql.Tx, runID string, update Update) error {
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET current_turn=?, status=?, verdict=? WHERE run_id=?`,
		update.CurrentTurn, update.Status, nullableStringPtr(update.Verdict), runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

const runColumns = `run_id, created_at, scenario, mode, status, current_turn, COALESCE(verdict, ''), run_dir`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var r RunRecord
	err := row.Scan(&r.RunID, &r.CreatedAt, &r.Scenario, &r.Mode, &r.Status, &r.CurrentTurn, &r.Verdict, &r.RunDir)
	return r, err
}

// GetRun returns a run by id. The boolean is false when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("read run: %w", err)
	}
	return r, true, nil
}

// ListRuns returns runs newest first. A positive limit caps the result.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ListTurns returns the recorded turns of a run in order.
func (s *Store) ListTurns(ctx context.Context, runID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, turn_index, status, exit_code, lines, turn_dir,
		COALESCE(started_at, ''), COALESCE(ended_at, ''), COALESCE(error, '')
		FROM turns WHERE run_id=? ORDER BY turn_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.RunID, &t.TurnIndex, &t.Status, &t.ExitCode, &t.Lines, &t.TurnDir, &t.StartedAt, &t.EndedAt, &t.Error); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

// CountEvents returns the number of timeline events for a run.
func (s *Store) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id=?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// DeleteRun removes a run and, through foreign keys, its turns and events.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}
