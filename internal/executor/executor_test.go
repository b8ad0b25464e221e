// ABOUTME: Tests for the tool executor: containment, allowlist, git, patches, and auditing.
// ABOUTME: Subprocesses are replaced by runner.Fake; the audit store is in-memory SQLite.

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workbridge/internal/patch"
	"github.com/2389/workbridge/internal/protocol"
	"github.com/2389/workbridge/internal/runner"
	"github.com/2389/workbridge/internal/store"
)

type testEnv struct {
	exec  *Executor
	root  string
	fake  *runner.Fake
	audit *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := canonicalRoot(t.TempDir())
	fake := runner.NewFake()

	audit, err := store.NewSQLiteStore(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	stager, err := patch.New(patch.Config{Dir: filepath.Join(t.TempDir(), "staging"), Root: root, Runner: fake})
	require.NoError(t, err)

	e, err := New(Config{Root: root, Runner: fake, Patches: stager, Audit: audit})
	require.NoError(t, err)
	return &testEnv{exec: e, root: root, fake: fake, audit: audit}
}

func (env *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(env.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func call(t *testing.T, e *Executor, tool string, input map[string]string) (protocol.ToolResult, map[string]any) {
	t.Helper()
	res := e.Handle(context.Background(), protocol.ToolRequest{ID: "req-" + tool, ToolName: tool, Input: input})
	assert.Equal(t, "req-"+tool, res.ID)
	if !res.IsSuccess() {
		return res, nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &out))
	return res, out
}

func TestReadFileTraversalIsPolicyDenied(t *testing.T) {
	e, err := New(Config{Root: "/ws", Runner: runner.NewFake()})
	require.NoError(t, err)

	res, _ := call(t, e, protocol.ToolReadFile, map[string]string{"path": "../../etc/passwd"})
	require.True(t, res.IsFailure())
	assert.Equal(t, protocol.KindPolicy, res.ErrorKind)
	assert.True(t, errors.Is(res.Err(), protocol.ErrPathEscape))
}

func TestReadFileInsideWorkspaceSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "src/a.ts", "export const a = 1;\n")

	res, out := call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "src/a.ts"})
	require.True(t, res.IsSuccess(), res.Error)
	assert.Equal(t, "src/a.ts", out["path"])
	assert.Equal(t, "export const a = 1;\n", out["content"])
	assert.Equal(t, float64(20), out["size"])
}

func TestReadFileErrors(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "src/a.ts", "x")

	res, _ := call(t, env.exec, protocol.ToolReadFile, map[string]string{})
	assert.True(t, errors.Is(res.Err(), protocol.ErrMissingInput))

	res, _ = call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "src/missing.ts"})
	assert.True(t, errors.Is(res.Err(), protocol.ErrNotFound))

	res, _ = call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "src"})
	assert.Equal(t, protocol.KindValidation, res.ErrorKind)

	res, _ = call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "/etc/passwd"})
	assert.Equal(t, protocol.KindPolicy, res.ErrorKind)
}

func TestReadFileSymlinkOutsideRootIsDenied(t *testing.T) {
	env := newTestEnv(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))
	if err := os.Symlink(outside, filepath.Join(env.root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	res, _ := call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "link.txt"})
	assert.Equal(t, protocol.KindPolicy, res.ErrorKind)
}

func TestWithinUsesComponentBoundary(t *testing.T) {
	assert.True(t, within("/ws", "/ws"))
	assert.True(t, within("/ws", "/ws/src/a.ts"))
	assert.True(t, within("/ws", "/WS/Src/a.ts"))
	assert.True(t, within("/", "/etc"))
	assert.False(t, within("/ws", "/wsother"))
	assert.False(t, within("/ws", "/wsother/a.ts"))
	assert.False(t, within("/ws", "/etc/passwd"))
	assert.False(t, within("/ws/src", "/ws"))
}

func TestResolveSiblingPrefixIsDenied(t *testing.T) {
	e, err := New(Config{Root: "/ws", Runner: runner.NewFake()})
	require.NoError(t, err)

	_, err = e.resolve("../wsother/a.ts")
	assert.True(t, errors.Is(err, protocol.ErrPathEscape))

	abs, err := e.resolve("src/../src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ws", "src", "a.ts"), abs)
}

func TestUnknownTool(t *testing.T) {
	env := newTestEnv(t)
	res, _ := call(t, env.exec, "delete_everything", nil)
	assert.True(t, errors.Is(res.Err(), protocol.ErrUnknownTool))
}

func TestRunCommandNotAllowlistedIsPolicyDenied(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"rm", "sh", "TEST", "test; rm -rf /", "test && echo pwned"} {
		res, _ := call(t, env.exec, protocol.ToolRunCommand, map[string]string{"commandName": name})
		require.True(t, res.IsFailure(), name)
		assert.True(t, errors.Is(res.Err(), protocol.ErrNotAllowed), name)
		assert.Contains(t, res.Error, "Allowed: build, lint, test")
	}
	assert.Empty(t, env.fake.Calls())
}

func TestRunCommandDispatchesMappedExecutable(t *testing.T) {
	env := newTestEnv(t)
	env.fake.On("npm test", runner.Response{Output: runner.Output{ExitCode: 1, Stdout: "1 failing", Stderr: "warn"}})

	res, out := call(t, env.exec, protocol.ToolRunCommand, map[string]string{
		"commandName": "test",
		"args":        "--watch; rm -rf /",
	})
	require.True(t, res.IsSuccess(), res.Error)
	assert.Equal(t, "test", out["commandName"])
	assert.Equal(t, float64(1), out["exitCode"])
	assert.Equal(t, "1 failing", out["stdout"])
	assert.Equal(t, "warn", out["stderr"])

	calls := env.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "npm", calls[0].Name)
	assert.Equal(t, []string{"test"}, calls[0].Args)
	assert.Equal(t, env.root, calls[0].Dir)
}

func TestRunCommandTimeout(t *testing.T) {
	root := t.TempDir()
	fake := runner.NewFake().On("npm run build", runner.Response{
		Hook: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	e, err := New(Config{Root: root, Runner: fake, CommandTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	res, _ := call(t, e, protocol.ToolRunCommand, map[string]string{"commandName": "build"})
	require.True(t, res.IsFailure())
	assert.Equal(t, protocol.KindTimeout, res.ErrorKind)
}

func TestAllowlistWithExtension(t *testing.T) {
	a := DefaultAllowlist().With(map[string][]string{
		"typecheck": {"npx", "tsc", "--noEmit"},
		"test":      {"go", "test", "./..."},
		"empty":     {},
	})

	cmd, ok := a.Lookup("typecheck")
	require.True(t, ok)
	assert.Equal(t, "npx tsc --noEmit", cmd.String())

	cmd, ok = a.Lookup("test")
	require.True(t, ok)
	assert.Equal(t, "go", cmd.Executable)

	_, ok = a.Lookup("empty")
	assert.False(t, ok)
	assert.Equal(t, []string{"build", "lint", "test", "typecheck"}, a.Names())

	_, ok = DefaultAllowlist().Lookup("typecheck")
	assert.False(t, ok)
}

func TestGitStatus(t *testing.T) {
	env := newTestEnv(t)
	env.fake.
		On("git status --porcelain", runner.Response{Output: runner.Output{Stdout: " M src/a.ts\n"}}).
		On("git branch --show-current", runner.Response{Output: runner.Output{Stdout: "main\n"}})

	res, out := call(t, env.exec, protocol.ToolGitStatus, nil)
	require.True(t, res.IsSuccess(), res.Error)
	assert.Equal(t, "main", out["branch"])
	assert.Equal(t, " M src/a.ts\n", out["status"])
	assert.Equal(t, false, out["clean"])
	assert.Len(t, env.fake.Calls(), 2)
}

func TestGitStatusFailureCarriesStderr(t *testing.T) {
	env := newTestEnv(t)
	env.fake.On("git status --porcelain", runner.Response{
		Output: runner.Output{ExitCode: 128, Stderr: "fatal: not a git repository"},
	})

	res, _ := call(t, env.exec, protocol.ToolGitStatus, nil)
	require.True(t, res.IsFailure())
	assert.Equal(t, protocol.KindExecution, res.ErrorKind)
	assert.Contains(t, res.Error, "not a git repository")
}

func TestGitDiff(t *testing.T) {
	env := newTestEnv(t)
	env.fake.
		On("git diff --cached", runner.Response{Output: runner.Output{Stdout: "staged"}}).
		On("git diff", runner.Response{Output: runner.Output{Stdout: "unstaged"}})

	res, out := call(t, env.exec, protocol.ToolGitDiff, nil)
	require.True(t, res.IsSuccess(), res.Error)
	assert.Equal(t, "staged", out["staged"])
	assert.Equal(t, "unstaged", out["unstaged"])
}

func TestPatchToolsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	diff := "--- a/src/a.ts\n+++ b/src/a.ts\n@@ -1 +1 @@\n-a\n+b\n"

	res, out := call(t, env.exec, protocol.ToolPatchPrepare, map[string]string{"diff": diff})
	require.True(t, res.IsSuccess(), res.Error)
	id, _ := out["patchId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, out["requiresConfirmation"])

	res, out = call(t, env.exec, protocol.ToolPatchApply, map[string]string{"patchId": id})
	require.True(t, res.IsSuccess(), res.Error)
	assert.Equal(t, true, out["applied"])

	res, _ = call(t, env.exec, protocol.ToolPatchApply, map[string]string{"patchId": id})
	assert.True(t, errors.Is(res.Err(), protocol.ErrNotFound))

	res, _ = call(t, env.exec, protocol.ToolPatchApply, map[string]string{"patchId": "never-prepared"})
	assert.True(t, errors.Is(res.Err(), protocol.ErrNotFound))
}

type panicStager struct{}

func (panicStager) Prepare(string) (*patch.Summary, error) { panic("boom") }
func (panicStager) Apply(context.Context, string) (*patch.Applied, error) {
	return nil, nil
}

func TestHandleRecoversPanics(t *testing.T) {
	e, err := New(Config{Root: t.TempDir(), Runner: runner.NewFake(), Patches: panicStager{}})
	require.NoError(t, err)

	var res protocol.ToolResult
	assert.NotPanics(t, func() {
		res = e.Handle(context.Background(), protocol.ToolRequest{
			ID: "p1", ToolName: protocol.ToolPatchPrepare, Input: map[string]string{"diff": "x"},
		})
	})
	require.True(t, res.IsFailure())
	assert.Equal(t, "p1", res.ID)
	assert.Equal(t, protocol.KindExecution, res.ErrorKind)
}

func TestEveryRequestIsAudited(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "src/a.ts", "x")
	ctx := context.Background()

	call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "src/a.ts"})
	call(t, env.exec, protocol.ToolRunCommand, map[string]string{"commandName": "rm"})
	call(t, env.exec, protocol.ToolReadFile, map[string]string{"path": "nope.ts"})
	call(t, env.exec, protocol.ToolSearchCode, map[string]string{"query": "sk-live-123456"})

	entries, err := env.audit.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	outcomes := map[store.AuditOutcome]int{}
	for _, e := range entries {
		outcomes[e.Outcome]++
	}
	assert.Equal(t, 2, outcomes[store.OutcomeOK])
	assert.Equal(t, 1, outcomes[store.OutcomeDenied])
	assert.Equal(t, 1, outcomes[store.OutcomeError])

	for _, e := range entries {
		if e.Tool == protocol.ToolSearchCode {
			assert.Equal(t, store.Redacted, e.Input["query"])
			assert.Equal(t, "0 results", e.Detail)
		}
		if e.Outcome == store.OutcomeDenied {
			assert.Equal(t, string(protocol.KindPolicy), e.ErrorKind)
			assert.True(t, strings.Contains(e.Detail, "not allowed"))
		}
	}
}
