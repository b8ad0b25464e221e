// ABOUTME: Tests for search_code: skipped directories, binary detection, result cap, and glob filter.

package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workbridge/internal/protocol"
)

func search(t *testing.T, env *testEnv, input map[string]string) searchResult {
	t.Helper()
	res, _ := call(t, env.exec, protocol.ToolSearchCode, input)
	require.True(t, res.IsSuccess(), res.Error)
	var out searchResult
	require.NoError(t, json.Unmarshal(res.Result, &out))
	return out
}

func TestSearchFindsMatchesWithRelativePaths(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "src/a.ts", "import x\n    const needle = 1;\nother\n")
	env.write(t, "src/lib/b.ts", "needle\n")

	out := search(t, env, map[string]string{"query": "needle"})
	assert.Equal(t, "needle", out.Query)
	assert.Equal(t, 2, out.Total)
	assert.False(t, out.Truncated)

	byFile := map[string]searchMatch{}
	for _, m := range out.Results {
		byFile[m.File] = m
	}
	assert.Equal(t, searchMatch{File: "src/a.ts", Line: 2, Text: "const needle = 1;"}, byFile["src/a.ts"])
	assert.Equal(t, 1, byFile["src/lib/b.ts"].Line)
}

func TestSearchSkipsVendoredAndBinary(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "node_modules/pkg/index.js", "needle")
	env.write(t, ".git/config", "needle")
	env.write(t, "dist/out.js", "needle")
	env.write(t, "bin/blob", "needle\x00\x01\x02")
	env.write(t, "src/ok.ts", "needle")

	out := search(t, env, map[string]string{"query": "needle"})
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "src/ok.ts", out.Results[0].File)
}

func TestSearchCapsResults(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "big.txt", strings.Repeat("needle\n", 250))

	out := search(t, env, map[string]string{"query": "needle"})
	assert.Equal(t, 100, out.Total)
	assert.Len(t, out.Results, 100)
	assert.True(t, out.Truncated)
}

func TestSearchDepthLimit(t *testing.T) {
	env := newTestEnv(t)
	deep := ""
	for i := 0; i < 12; i++ {
		deep = filepath.Join(deep, fmt.Sprintf("d%d", i))
	}
	env.write(t, filepath.ToSlash(filepath.Join(deep, "deep.txt")), "needle")
	env.write(t, "d0/shallow.txt", "needle")

	out := search(t, env, map[string]string{"query": "needle"})
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "d0/shallow.txt", out.Results[0].File)
}

func TestSearchGlobAndRoot(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "src/a.ts", "needle")
	env.write(t, "src/a.go", "needle")
	env.write(t, "docs/a.md", "needle")

	out := search(t, env, map[string]string{"query": "needle", "glob": "**/*.ts"})
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "src/a.ts", out.Results[0].File)

	out = search(t, env, map[string]string{"query": "needle", "root": "docs"})
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "docs/a.md", out.Results[0].File)

	out = search(t, env, map[string]string{"query": "needle", "glob": "**"})
	assert.Equal(t, 3, out.Total)
}

func TestSearchRootOutsideWorkspaceIsDenied(t *testing.T) {
	env := newTestEnv(t)
	res, _ := call(t, env.exec, protocol.ToolSearchCode, map[string]string{"query": "x", "root": "../"})
	assert.Equal(t, protocol.KindPolicy, res.ErrorKind)

	res, _ = call(t, env.exec, protocol.ToolSearchCode, map[string]string{})
	assert.Equal(t, protocol.KindValidation, res.ErrorKind)
}

func TestSearchSkipsSymlinks(t *testing.T) {
	env := newTestEnv(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "s.txt"), []byte("needle"), 0o644))
	if err := os.Symlink(outside, filepath.Join(env.root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	out := search(t, env, map[string]string{"query": "needle"})
	assert.Equal(t, 0, out.Total)
	assert.NotNil(t, out.Results)
}

func TestGlobName(t *testing.T) {
	assert.Equal(t, "", globName(""))
	assert.Equal(t, "", globName("**"))
	assert.Equal(t, "", globName("src/**"))
	assert.Equal(t, "*.ts", globName("src/**/*.ts"))
	assert.Equal(t, "*.go", globName("*.go"))
}
