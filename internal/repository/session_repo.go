// Package repository provides data access for the terminal session journal.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eCy-coding/eCyOs/internal/model"
)

// SessionRepository provides data access for journaled terminal sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const selectColumns = `
	SELECT id, shell, pid, remote_addr, status, exit_code, rows, cols, preview_line, recording, started_at, ended_at
	FROM terminal_sessions
`

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, rec *model.SessionRecord) error {
	query := `
		INSERT INTO terminal_sessions (id, shell, pid, remote_addr, status, rows, cols, recording, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Shell,
		rec.PID,
		rec.RemoteAddr,
		rec.Status,
		rec.Rows,
		rec.Cols,
		nullString(rec.Recording),
		rec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return rec, nil
}

// List returns the most recent records first. A non-positive limit returns all.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	query := selectColumns + ` ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	records := []*model.SessionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}
	return records, nil
}

// UpdateSize records the latest window size of a session.
func (r *SessionRepository) UpdateSize(ctx context.Context, id string, rows, cols uint16) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE terminal_sessions SET rows = ?, cols = ? WHERE id = ?`, rows, cols, id)
	if err != nil {
		return fmt.Errorf("failed to update session size: %w", err)
	}
	return expectOneRow(result)
}

// Finish marks a session as ended.
func (r *SessionRepository) Finish(ctx context.Context, id string, status model.SessionStatus, exitCode *int, previewLine string, endedAt time.Time) error {
	query := `
		UPDATE terminal_sessions
		SET status = ?, exit_code = ?, preview_line = ?, ended_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, exitCode, nullString(previewLine), endedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish session record: %w", err)
	}
	return expectOneRow(result)
}

// MarkAbandoned fails every record still marked running. It is called at
// startup, when no session from a previous process can still be alive.
func (r *SessionRepository) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE terminal_sessions SET status = ?, ended_at = ? WHERE status = ?`,
		model.SessionStatusFailed, at.UTC(), model.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned sessions: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of records with the given status.
func (r *SessionRepository) CountByStatus(ctx context.Context, status model.SessionStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM terminal_sessions WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// Delete removes a session record.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return expectOneRow(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	var (
		pid         sql.NullInt64
		exitCode    sql.NullInt64
		previewLine sql.NullString
		recording   sql.NullString
		endedAt     sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&rec.Shell,
		&pid,
		&rec.RemoteAddr,
		&rec.Status,
		&exitCode,
		&rec.Rows,
		&rec.Cols,
		&previewLine,
		&recording,
		&rec.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if pid.Valid {
		p := int(pid.Int64)
		rec.PID = &p
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	rec.PreviewLine = previewLine.String
	rec.Recording = recording.String
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return rec, nil
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
