// ABOUTME: Tests for the exec runner and the scripted fake.
// ABOUTME: Real-process tests use the test binary itself as the child so they need no tools on PATH.

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is the child process for the Exec tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("WORKBRIDGE_HELPER") != "1" {
		return
	}
	switch os.Args[len(os.Args)-1] {
	case "ok":
		fmt.Fprint(os.Stdout, "out")
		fmt.Fprint(os.Stderr, "err")
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "broken")
		os.Exit(3)
	case "loud":
		fmt.Fprint(os.Stdout, strings.Repeat("x", 4096))
		os.Exit(0)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helper(t *testing.T, mode string) (string, []string) {
	t.Helper()
	t.Setenv("WORKBRIDGE_HELPER", "1")
	return os.Args[0], []string{"-test.run=TestHelperProcess", "--", mode}
}

func TestExecCapturesOutput(t *testing.T) {
	name, args := helper(t, "ok")
	out, err := Exec{}.Run(context.Background(), t.TempDir(), name, args...)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "out", out.Stdout)
	assert.Equal(t, "err", out.Stderr)
}

func TestExecNonZeroExitIsNotAnError(t *testing.T) {
	name, args := helper(t, "fail")
	out, err := Exec{}.Run(context.Background(), t.TempDir(), name, args...)
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "broken", out.Stderr)
}

func TestExecCapsOutput(t *testing.T) {
	name, args := helper(t, "loud")
	out, err := Exec{OutputLimit: 100}.Run(context.Background(), t.TempDir(), name, args...)
	require.NoError(t, err)
	assert.Len(t, out.Stdout, 100)
	assert.True(t, out.Truncated)
}

func TestExecTimeout(t *testing.T) {
	name, args := helper(t, "sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Exec{WaitDelay: 100 * time.Millisecond}.Run(ctx, t.TempDir(), name, args...)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), t.TempDir(), "definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}

func TestFakeRecordsAndReplays(t *testing.T) {
	f := NewFake().On("git status --porcelain", Response{Output: Output{Stdout: " M a.go\n"}})

	out, err := f.Run(context.Background(), "/ws", "git", "status", "--porcelain")
	require.NoError(t, err)
	assert.Equal(t, " M a.go\n", out.Stdout)

	out, err = f.Run(context.Background(), "/ws", "git", "branch", "--show-current")
	require.NoError(t, err)
	assert.Empty(t, out.Stdout)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/ws", calls[0].Dir)
	assert.Equal(t, "git branch --show-current", calls[1].Argv())
}
