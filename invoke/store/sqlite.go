package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps the invocation audit trail in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process agents that need a durable history
//   - Prototyping before migrating to a shared database
//
// SQLiteStore uses WAL mode so readers are not blocked by the writer.
//
// Schema:
//   - invocation_records: one row per completed invocation
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./invocations.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically:
//   - Creates the database file if it doesn't exist
//   - Creates required tables
//   - Enables WAL mode for concurrent reads
//   - Configures a busy timeout
//
// Example:
//
//	st, err := store.NewSQLiteStore("./invocations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	recordsTable := `
		CREATE TABLE IF NOT EXISTS invocation_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			retries INTEGER NOT NULL DEFAULT 0,
			fallback_used INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			meta TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, recordsTable); err != nil {
		return fmt.Errorf("failed to create invocation_records table: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_records_correlation ON invocation_records(correlation_id)",
		"CREATE INDEX IF NOT EXISTS idx_records_tool ON invocation_records(tool, id)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SaveRecord persists one invocation record.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec Record) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	metaJSON, err := marshalMeta(rec.Meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocation_records
			(correlation_id, tool, target, success, error_kind, error_message,
			 retries, fallback_used, elapsed_ms, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.Tool, rec.Target, boolToInt(rec.Success),
		rec.ErrorKind, rec.ErrorMessage, rec.Retries, boolToInt(rec.FallbackUsed),
		rec.Elapsed.Milliseconds(), metaJSON, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// ListByTool retrieves records for a tool, most recent first.
func (s *SQLiteStore) ListByTool(ctx context.Context, toolName string, limit int) ([]Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	query := `
		SELECT id, correlation_id, tool, target, success, error_kind,
		       error_message, retries, fallback_used, elapsed_ms, meta, created_at
		FROM invocation_records
		WHERE tool = ?
		ORDER BY id DESC`
	args := []interface{}{toolName}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// ListByCorrelation retrieves records sharing a correlation ID in save order.
func (s *SQLiteStore) ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, tool, target, success, error_kind,
		       error_message, retries, fallback_used, elapsed_ms, meta, created_at
		FROM invocation_records
		WHERE correlation_id = ?
		ORDER BY id ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Close closes the database connection.
//
// After Close, all operations return ErrClosed. Calling Close multiple
// times is safe.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// scanRecords reads rows shaped by the shared SELECT column list.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	result := []Record{}
	for rows.Next() {
		var (
			rec          Record
			success      int
			fallbackUsed int
			elapsedMS    int64
			metaJSON     string
			createdAtMS  int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.CorrelationID, &rec.Tool, &rec.Target, &success,
			&rec.ErrorKind, &rec.ErrorMessage, &rec.Retries, &fallbackUsed,
			&elapsedMS, &metaJSON, &createdAtMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Success = success != 0
		rec.FallbackUsed = fallbackUsed != 0
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAtMS)
		if err := unmarshalMeta(metaJSON, &rec.Meta); err != nil {
			return nil, err
		}

		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

func marshalMeta(meta map[string]interface{}) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta: %w", err)
	}
	return string(data), nil
}

func unmarshalMeta(metaJSON string, meta *map[string]interface{}) error {
	if metaJSON == "" || metaJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(metaJSON), meta); err != nil {
		return fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
