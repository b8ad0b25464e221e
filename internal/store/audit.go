// ABOUTME: Audit log store methods for tracking executor tool operations
// ABOUTME: Records which tool ran with which (redacted) input and how it ended

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed width so timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set. Input is redacted before it is written.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var inputJSON *string
	if e.Input != nil {
		data, err := json.Marshal(Redact(e.Input))
		if err != nil {
			return fmt.Errorf("marshaling audit input: %w", err)
		}
		str := string(data)
		inputJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, request_id, tool, input_json, outcome, error_kind, detail, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		e.Tool,
		inputJSON,
		string(e.Outcome),
		nullable(e.ErrorKind),
		nullable(RedactString(e.Detail)),
		e.Duration.Milliseconds(),
		e.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"tool", e.Tool,
		"outcome", e.Outcome,
	)
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var outcome, tsStr string
	var inputJSON, errorKind, detail *string
	var durationMs int64

	if err := scanner.Scan(
		&e.ID,
		&e.RequestID,
		&e.Tool,
		&inputJSON,
		&outcome,
		&errorKind,
		&detail,
		&durationMs,
		&tsStr,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Outcome = AuditOutcome(outcome)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	if errorKind != nil {
		e.ErrorKind = *errorKind
	}
	if detail != nil {
		e.Detail = *detail
	}

	var err error
	e.Timestamp, err = time.Parse(tsLayout, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if inputJSON != nil {
		if err := json.Unmarshal([]byte(*inputJSON), &e.Input); err != nil {
			return e, fmt.Errorf("unmarshaling input: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, request_id, tool, input_json, outcome, error_kind, detail, duration_ms, ts
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR tool = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, outcomeStr *string
	if f.Since != nil {
		str := f.Since.UTC().Format(tsLayout)
		sinceStr = &str
	}
	if f.Outcome != nil {
		str := string(*f.Outcome)
		outcomeStr = &str
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		f.Tool, f.Tool,
		outcomeStr, outcomeStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
