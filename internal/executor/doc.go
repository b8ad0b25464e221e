// Package executor performs workspace operations on behalf of the gateway.
//
// The Executor is the agent's request handler. It owns a fixed tool table:
//
//   - read_file: one file, confined to the workspace root
//   - search_code: literal search, capped at 100 matches
//   - git_status, git_diff: read-only git queries
//   - run_command: a name from the allowlist, never a caller-built argv
//   - patch_prepare, patch_apply: delegated to the patch stager
//
// Path containment compares case-insensitively on a component boundary, so a
// root of /ws does not contain /wsother. Symlinks that resolve outside the
// root are denied.
//
// Every request, including denied ones, is written to the audit log with its
// input redacted. Policy failures are recorded as denied; all other failures
// as error.
package executor
