package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Error log levels
const (
	LevelError = "error"
	LevelPanic = "panic"
)

// ErrorLog is one persisted task failure.
type ErrorLog struct {
	ID         int64             `json:"id"`
	Level      string            `json:"level"`
	Module     string            `json:"module"`
	Message    string            `json:"message"`
	Stacktrace string            `json:"stacktrace,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LogError records entry. CreatedAt defaults to now.
func (s *Store) LogError(ctx context.Context, entry ErrorLog) error {
	if entry.Level == "" {
		entry.Level = LevelError
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var ctxJSON sql.NullString
	if len(entry.Context) > 0 {
		b, err := json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("failed to encode error context: %w", err)
		}
		ctxJSON = sql.NullString{String: string(b), Valid: true}
	}
	stack := sql.NullString{String: entry.Stacktrace, Valid: entry.Stacktrace != ""}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_logs (level, module, message, stacktrace, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Level, entry.Module, entry.Message, stack, ctxJSON, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert error log: %w", err)
	}
	return nil
}

// ErrorLogs returns the newest limit entries, newest first (all when limit <= 0).
func (s *Store) ErrorLogs(ctx context.Context, limit int) ([]ErrorLog, error) {
	query := `
		SELECT id, level, module, message, stacktrace, context, created_at
		FROM error_logs
		ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorLog
	for rows.Next() {
		var (
			e       ErrorLog
			stack   sql.NullString
			ctxJSON sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Level, &e.Module, &e.Message, &stack, &ctxJSON, &created); err != nil {
			return nil, err
		}
		e.Stacktrace = stack.String
		if ctxJSON.Valid {
			if err := json.Unmarshal([]byte(ctxJSON.String), &e.Context); err != nil {
				s.logger.Warn("skipping malformed error context")
			}
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
