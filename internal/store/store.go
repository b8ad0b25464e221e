// ABOUTME: Store interface and data types for executor audit persistence
// ABOUTME: Defines AuditEntry, its outcome values, and the AuditLog interface

package store

import (
	"context"
	"time"
)

// AuditOutcome is the result of an audited operation.
type AuditOutcome string

const (
	OutcomeOK     AuditOutcome = "ok"
	OutcomeDenied AuditOutcome = "denied"
	OutcomeError  AuditOutcome = "error"
)

// AuditEntry records one tool operation performed (or refused) by the executor.
type AuditEntry struct {
	ID        string            // UUID v4
	RequestID string            // correlation id of the tool request
	Tool      string            // tool name
	Input     map[string]string // redacted before storage
	Outcome   AuditOutcome
	ErrorKind string // taxonomy kind when Outcome is not ok
	Detail    string // error message or short result summary
	Duration  time.Duration
	Timestamp time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since   *time.Time    // entries after this time
	Tool    *string       // filter by tool name
	Outcome *AuditOutcome // filter by outcome
	Limit   int           // max results (default 100, max 1000)
}

// AuditLog persists audit entries.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	Close() error
}
