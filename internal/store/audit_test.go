// ABOUTME: Tests for audit log store operations and redaction
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		RequestID: "req-1",
		Tool:      "read_file",
		Input:     map[string]string{"path": "src/a.ts"},
		Outcome:   OutcomeOK,
		Duration:  12 * time.Millisecond,
	}
	require.NoError(t, store.AppendAuditLog(ctx, entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "src/a.ts", got.Input["path"])
	assert.Equal(t, OutcomeOK, got.Outcome)
	assert.Equal(t, 12*time.Millisecond, got.Duration)
	assert.Empty(t, got.ErrorKind)
}

func TestAuditStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{RequestID: "r", Tool: "git_status", Outcome: OutcomeOK}))
	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditStore_RedactsBeforeWrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
		RequestID: "req-2",
		Tool:      "run_command",
		Input:     map[string]string{"commandName": "sk-live-abc123", "api_key": "plain"},
		Outcome:   OutcomeDenied,
		ErrorKind: "policy_denied",
		Detail:    "Authorization: Bearer abc.def",
	}))

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Redacted, entries[0].Input["commandName"])
	assert.Equal(t, Redacted, entries[0].Input["api_key"])
	assert.NotContains(t, entries[0].Detail, "abc.def")
	assert.Equal(t, "policy_denied", entries[0].ErrorKind)
}

func TestAuditStore_List_NewestFirstAndFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i, e := range []AuditEntry{
		{Tool: "read_file", Outcome: OutcomeOK},
		{Tool: "run_command", Outcome: OutcomeDenied},
		{Tool: "read_file", Outcome: OutcomeError},
	} {
		e.RequestID = "req"
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.AppendAuditLog(ctx, &e))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, OutcomeError, entries[0].Outcome)

	tool := "read_file"
	entries, err = store.ListAuditLog(ctx, AuditFilter{Tool: &tool})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	denied := OutcomeDenied
	entries, err = store.ListAuditLog(ctx, AuditFilter{Outcome: &denied})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run_command", entries[0].Tool)

	since := base.Add(1500 * time.Millisecond)
	entries, err = store.ListAuditLog(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = store.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
	assert.Equal(t, 7, normalizeAuditLimit(7))
}

func TestRedact(t *testing.T) {
	got := Redact(map[string]string{
		"path":     "src/a.ts",
		"password": "hunter2",
		"query":    "token_abc",
		"diff":     strings.Repeat("+x\n", 1000),
	})
	assert.Equal(t, "src/a.ts", got["path"])
	assert.Equal(t, Redacted, got["password"])
	assert.Equal(t, Redacted, got["query"])
	assert.Contains(t, got["diff"], "(3000 bytes total)")
	assert.Less(t, len(got["diff"]), 1100)

	assert.Nil(t, Redact(nil))
}
