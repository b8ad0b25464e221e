// Package store persists the executor's audit trail.
//
// Every tool operation the executor performs, or refuses, is appended to an
// SQLite audit_log table (modernc.org/sqlite, no CGO). Inputs are redacted
// before they are written: values that look like credentials and values under
// credential-like keys become [REDACTED], and long values such as diffs are
// truncated with their original size noted.
//
//	s, err := store.NewSQLiteStore("workbridge-audit.db")
//	err = s.AppendAuditLog(ctx, &store.AuditEntry{Tool: "read_file", Outcome: store.OutcomeOK})
//	entries, err := s.ListAuditLog(ctx, store.AuditFilter{Limit: 20})
package store
