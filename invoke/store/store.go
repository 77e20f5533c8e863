// Package store persists invocation outcomes for audit and analysis.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("store is closed")

// Record is one persisted invocation outcome.
//
// The runtime writes a record per completed invocation (including fallback
// hops, which share a correlation ID with their primary). Records power
// after-the-fact questions: which tools fail most, how many retries a
// target burns, whether fallbacks actually rescue calls.
type Record struct {
	// ID is the storage-assigned row identity. Zero until saved by a
	// database-backed store.
	ID int64 `json:"id"`

	// CorrelationID groups the records of one logical invocation.
	CorrelationID string `json:"correlationID"`

	// Tool is the name of the invoked tool.
	Tool string `json:"tool"`

	// Target is the circuit-breaker partition the call counted against.
	Target string `json:"target"`

	// Success reports whether the invocation produced a result.
	Success bool `json:"success"`

	// ErrorKind is the failure classification, empty on success.
	ErrorKind string `json:"errorKind,omitempty"`

	// ErrorMessage is the failure detail, empty on success.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Retries is how many retries the invocation consumed.
	Retries int `json:"retries"`

	// FallbackUsed reports whether the result came from a fallback tool.
	FallbackUsed bool `json:"fallbackUsed"`

	// Elapsed is the total invocation duration.
	Elapsed time.Duration `json:"elapsed"`

	// Meta carries extra outcome metadata, such as the fallback route.
	Meta map[string]interface{} `json:"meta,omitempty"`

	// CreatedAt is when the record was saved.
	CreatedAt time.Time `json:"createdAt"`
}

// Store provides persistence for invocation records.
//
// Implementations ship for:
//   - In-memory storage (tests and short-lived processes, see memory.go)
//   - SQLite (single-process durability with zero setup, see sqlite.go)
//   - MySQL/MariaDB (shared audit trail across workers, see mysql.go)
//
// All implementations are safe for concurrent use.
type Store interface {
	// SaveRecord persists one invocation record.
	//
	// A zero CreatedAt is stamped with the current time. Returns
	// ErrClosed after Close.
	SaveRecord(ctx context.Context, rec Record) error

	// ListByTool retrieves records for a tool, most recent first.
	// A limit <= 0 means no limit.
	ListByTool(ctx context.Context, toolName string, limit int) ([]Record, error)

	// ListByCorrelation retrieves the records sharing a correlation ID
	// in the order they were saved, so a fallback chain reads
	// primary-first.
	ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error)

	// Close releases resources held by the store.
	// Calling Close multiple times is safe.
	Close() error
}
