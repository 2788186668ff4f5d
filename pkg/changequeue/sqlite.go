package changequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteConfig holds SQLite backend configuration
type SQLiteConfig struct {
	Path         string
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// SQLiteBackend persists queues in a single SQLite table so pending and
// dead-lettered jobs survive restarts.
type SQLiteBackend struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewSQLiteBackend opens the queue database. An unreachable database is
// reported as ErrQueueConnection.
func NewSQLiteBackend(ctx context.Context, cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("queue database path is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueConnection, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrQueueConnection, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS queue_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_items_queue ON queue_items(queue, id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	cfg.Logger.Debug().Str("path", cfg.Path).Msg("Queue database opened")

	return &SQLiteBackend{
		db:           db,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}, nil
}

func (b *SQLiteBackend) Push(ctx context.Context, queue string, payload []byte) error {
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO queue_items (queue, payload, enqueued_at) VALUES (?, ?, ?)",
		queue, payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}
	return nil
}

func (b *SQLiteBackend) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		payload, err := b.popOnce(ctx, queue)
		if err != nil || payload != nil {
			return payload, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		wait := b.pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (b *SQLiteBackend) popOnce(ctx context.Context, queue string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `
		DELETE FROM queue_items
		WHERE id = (SELECT id FROM queue_items WHERE queue = ? ORDER BY id LIMIT 1)
		RETURNING payload
	`, queue).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", queue, err)
	}
	return payload, nil
}

func (b *SQLiteBackend) Len(ctx context.Context, queue string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items WHERE queue = ?", queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", queue, err)
	}
	return n, nil
}

// Move runs in one transaction, so a crash or error partway through leaves
// the source queue untouched.
func (b *SQLiteBackend) Move(ctx context.Context, from, to string, rewrite func([]byte) []byte) (int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	defer tx.Rollback()

	type item struct {
		id      int64
		payload []byte
	}
	rows, err := tx.QueryContext(ctx, "SELECT id, payload FROM queue_items WHERE queue = ? ORDER BY id", from)
	if err != nil {
		return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.id, &it.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
	}

	// Re-inserting puts moved items behind whatever is already queued.
	now := time.Now().Unix()
	for _, it := range items {
		payload := it.payload
		if rewrite != nil {
			payload = rewrite(payload)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO queue_items (queue, payload, enqueued_at) VALUES (?, ?, ?)",
			to, payload, now,
		); err != nil {
			return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM queue_items WHERE id = ?", it.id); err != nil {
			return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return len(items), nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
