// Package repository provides data access for terminal session records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agent-relay/backend/internal/model"
)

// TerminalRepository persists terminal session lifecycle records.
type TerminalRepository struct {
	db *sql.DB
}

// NewTerminalRepository creates a new TerminalRepository.
func NewTerminalRepository(db *sql.DB) *TerminalRepository {
	return &TerminalRepository{db: db}
}

// Create inserts a new terminal session record.
func (r *TerminalRepository) Create(ctx context.Context, sess *model.TerminalSession) error {
	query := `
		INSERT INTO terminal_sessions (id, shell, cwd, status, pid, log_file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		sess.ID,
		sess.Shell,
		sess.Cwd,
		sess.Status,
		sess.PID,
		sess.LogFilePath,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create terminal session: %w", err)
	}

	return nil
}

// UpdateStatus records a session's lifecycle transition.
func (r *TerminalRepository) UpdateStatus(ctx context.Context, id string, status model.TerminalStatus, exitCode *int) error {
	query := `
		UPDATE terminal_sessions
		SET status = ?, exit_code = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update terminal session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// GetByID retrieves a terminal session record by its ID.
func (r *TerminalRepository) GetByID(ctx context.Context, id string) (*model.TerminalSession, error) {
	query := `
		SELECT id, shell, cwd, status, exit_code, pid, log_file_path, created_at, updated_at
		FROM terminal_sessions
		WHERE id = ?
	`

	sess := &model.TerminalSession{}
	var cwd, logFilePath sql.NullString
	var exitCode, pid sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID,
		&sess.Shell,
		&cwd,
		&sess.Status,
		&exitCode,
		&pid,
		&logFilePath,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal session: %w", err)
	}

	sess.Cwd = cwd.String
	sess.LogFilePath = logFilePath.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sess.ExitCode = &code
	}
	if pid.Valid {
		p := int(pid.Int64)
		sess.PID = &p
	}

	return sess, nil
}

// List retrieves all terminal session records, newest first.
func (r *TerminalRepository) List(ctx context.Context) ([]*model.TerminalSession, error) {
	query := `
		SELECT id, shell, cwd, status, exit_code, pid, log_file_path, created_at, updated_at
		FROM terminal_sessions
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.TerminalSession
	for rows.Next() {
		sess := &model.TerminalSession{}
		var cwd, logFilePath sql.NullString
		var exitCode, pid sql.NullInt64

		if err := rows.Scan(
			&sess.ID,
			&sess.Shell,
			&cwd,
			&sess.Status,
			&exitCode,
			&pid,
			&logFilePath,
			&sess.CreatedAt,
			&sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan terminal session: %w", err)
		}

		sess.Cwd = cwd.String
		sess.LogFilePath = logFilePath.String
		if exitCode.Valid {
			code := int(exitCode.Int64)
			sess.ExitCode = &code
		}
		if pid.Valid {
			p := int(pid.Int64)
			sess.PID = &p
		}

		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}
