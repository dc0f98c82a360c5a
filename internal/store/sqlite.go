package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/neboloop/intentcore/internal/ai"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Conversation summarises one stored conversation.
type Conversation struct {
	Key       string    `json:"key"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the SQLite-backed conversation log.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path and runs migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; serialize through one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("conversation store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns every stored turn for key in insertion order. An unknown key
// yields an empty history.
func (s *Store) Load(ctx context.Context, key string) ([]ai.Message, error) {
	return s.Recent(ctx, key, 0)
}

// Recent returns the last limit turns for key (all when limit <= 0).
func (s *Store) Recent(ctx context.Context, key string, limit int) ([]ai.Message, error) {
	query := `
		SELECT role, text FROM conversation_turns
		WHERE conversation_key = ?
		ORDER BY id ASC
	`
	args := []any{key}
	if limit > 0 {
		query = `
			SELECT role, text FROM (
				SELECT id, role, text FROM conversation_turns
				WHERE conversation_key = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ai.Message
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, err
		}
		r, ok := ai.ParseRole(role)
		if !ok {
			s.logger.Warn("skipping turn with unknown role", zap.String("key", key), zap.String("role", role))
			continue
		}
		msgs = append(msgs, ai.Message{Role: r, Text: text})
	}
	return msgs, rows.Err()
}

// Append stores msgs under key in a single transaction.
func (s *Store) Append(ctx context.Context, key string, msgs ...ai.Message) (err error) {
	if key == "" {
		return errors.New("conversation key must not be empty")
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at
	`, key, now, now); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	for _, m := range msgs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (conversation_key, role, text, created_at) VALUES (?, ?, ?, ?)`,
			key, string(m.Role), m.Text, now,
		); err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
	}

	return tx.Commit()
}

// Conversations lists stored conversations, most recently updated first.
func (s *Store) Conversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.key, c.created_at, c.updated_at, COUNT(t.id)
		FROM conversations c
		LEFT JOIN conversation_turns t ON t.conversation_key = c.key
		GROUP BY c.key
		ORDER BY c.updated_at DESC, c.key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.Key, &created, &updated, &c.Turns); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its turns.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE key = ?`, key)
	return err
}
