package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It keeps the invocation audit trail in a relational database.
// Designed for:
//   - Production agents requiring a durable history
//   - Fleets of workers sharing one audit trail
//   - Compliance reporting over tool usage
//
// MySQLStore uses connection pooling for reliability.
//
// Schema:
//   - invocation_records: one row per completed invocation
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/invocations
//	user:password@tcp(127.0.0.1:3306)/invocations?parseTime=true
//
// Never hardcode credentials in source. Use environment variables:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	if dsn == "" {
//	    log.Fatal("MYSQL_DSN environment variable not set")
//	}
//	st, err := store.NewMySQLStore(dsn)
//
// The store automatically creates required tables and configures the
// connection pool.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	recordsTable := `
		CREATE TABLE IF NOT EXISTS invocation_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			correlation_id VARCHAR(64) NOT NULL,
			tool VARCHAR(255) NOT NULL,
			target VARCHAR(255) NOT NULL DEFAULT '',
			success TINYINT(1) NOT NULL,
			error_kind VARCHAR(32) NOT NULL DEFAULT '',
			error_message TEXT,
			retries INT NOT NULL DEFAULT 0,
			fallback_used TINYINT(1) NOT NULL DEFAULT 0,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			meta JSON,
			created_at BIGINT NOT NULL,
			INDEX idx_records_correlation (correlation_id),
			INDEX idx_records_tool (tool, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, recordsTable); err != nil {
		return fmt.Errorf("failed to create invocation_records table: %w", err)
	}
	return nil
}

// SaveRecord persists one invocation record.
func (s *MySQLStore) SaveRecord(ctx context.Context, rec Record) error {
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
func (s *MySQLStore) ListByTool(ctx context.Context, toolName string, limit int) ([]Record, error) {
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

	return scanMySQLRecords(rows)
}

// ListByCorrelation retrieves records sharing a correlation ID in save order.
func (s *MySQLStore) ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
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

	return scanMySQLRecords(rows)
}

// scanMySQLRecords mirrors scanRecords but tolerates NULL text columns,
// which MySQL produces for TEXT and JSON.
func scanMySQLRecords(rows *sql.Rows) ([]Record, error) {
	result := []Record{}
	for rows.Next() {
		var (
			rec          Record
			success      int
			fallbackUsed int
			elapsedMS    int64
			errorMessage sql.NullString
			metaJSON     sql.NullString
			createdAtMS  int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.CorrelationID, &rec.Tool, &rec.Target, &success,
			&rec.ErrorKind, &errorMessage, &rec.Retries, &fallbackUsed,
			&elapsedMS, &metaJSON, &createdAtMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Success = success != 0
		rec.FallbackUsed = fallbackUsed != 0
		rec.ErrorMessage = errorMessage.String
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAtMS)
		if metaJSON.Valid {
			if err := unmarshalMeta(metaJSON.String, &rec.Meta); err != nil {
				return nil, err
			}
		}

		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

// Close closes the database connection pool.
//
// After Close, all operations return ErrClosed. Calling Close multiple
// times is safe.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}
