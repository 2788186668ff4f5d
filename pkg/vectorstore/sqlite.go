package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "documents"

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteConfig holds SQLite vector store configuration
type SQLiteConfig struct {
	Path       string
	Collection string
	VectorSize int
	Logger     zerolog.Logger
}

// SQLiteStore keeps documents in a regular table and their vectors in a
// sqlite-vec vec0 table with cosine distance.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	vectorSize int
	logger     zerolog.Logger
}

// NewSQLiteStore opens the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", cfg.VectorSize)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name: %q", collection)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		collection: collection,
		vectorSize: cfg.VectorSize,
		logger:     cfg.Logger,
	}, nil
}

func (s *SQLiteStore) docTable() string { return s.collection + "_documents" }
func (s *SQLiteStore) vecTable() string { return s.collection + "_vectors" }

func (s *SQLiteStore) InitializeCollection(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			point_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			body TEXT NOT NULL,
			file_name TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_path ON %[1]s(path);
	`, s.docTable())

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create document table: %w", err)
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			point_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.vecTable(), s.vectorSize)

	if _, err := s.db.ExecContext(ctx, vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	s.logger.Debug().
		Str("collection", s.collection).
		Int("vector_size", s.vectorSize).
		Msg("Collection ready")
	return nil
}

func (s *SQLiteStore) StoreDocument(ctx context.Context, key, content string, vector []float32) error {
	if len(vector) != s.vectorSize {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.vectorSize)
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	id := PointID(key)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (point_id, path, body, file_name, indexed_at) VALUES (?, ?, ?, ?, ?)",
		s.docTable()),
		id, key, content, fileName(key), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	// vec0 tables do not support upsert
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE point_id = ?", s.vecTable()), id); err != nil {
		return fmt.Errorf("failed to replace embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (point_id, embedding) VALUES (?, ?)", s.vecTable()), id, string(embeddingJSON)); err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, key string) error {
	id := PointID(key)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE point_id = ?", s.docTable()), id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE point_id = ?", s.vecTable()), id); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) DocumentExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE point_id = ?", s.docTable()),
		PointID(key),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Hit, error) {
	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.vectorSize)
	}
	if limit <= 0 {
		limit = 10
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	// Zero vectors yield a NULL distance; drop them before the limit applies.
	query := fmt.Sprintf(`
		SELECT point_id, path, file_name, body, indexed_at, distance
		FROM (
			SELECT
				d.point_id, d.path, d.file_name, d.body, d.indexed_at,
				vec_distance_cosine(v.embedding, ?) AS distance
			FROM %s v
			JOIN %s d ON d.point_id = v.point_id
		)
		WHERE distance IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?
	`, s.vecTable(), s.docTable())

	rows, err := s.db.QueryContext(ctx, query, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			hit       Hit
			indexedAt int64
			distance  sql.NullFloat64
		)
		if err := rows.Scan(&hit.ID, &hit.Path, &hit.FileName, &hit.Body, &indexedAt, &distance); err != nil {
			return nil, err
		}
		if !distance.Valid || math.IsNaN(distance.Float64) {
			continue
		}

		hit.Score = 1.0 - distance.Float64
		if hit.Score < threshold {
			continue
		}
		hit.IndexedAt = time.Unix(indexedAt, 0).UTC()
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

func (s *SQLiteStore) Info(ctx context.Context) (Info, error) {
	info := Info{Collection: s.collection, VectorSize: s.vectorSize}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.docTable())).Scan(&info.Points)
	if err != nil {
		return info, fmt.Errorf("failed to count points: %w", err)
	}
	return info, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
