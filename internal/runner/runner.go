// ABOUTME: Out-of-process command execution with argv only (no shell) and capped output.
// ABOUTME: Runner is an interface so tests can observe the exact argv without spawning anything.

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultOutputLimit caps each of stdout and stderr.
const DefaultOutputLimit = 1 << 20

// Output is what a finished process produced.
type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
}

// Runner executes name with args in dir.
// A non-zero exit is reported through Output.ExitCode, not as an error.
// The error is reserved for failures to start and for ctx expiry.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Output, error)
}

// Exec runs real processes with os/exec.
type Exec struct {
	// OutputLimit caps each stream; zero means DefaultOutputLimit.
	OutputLimit int
	// WaitDelay bounds how long to wait for output pipes after the process is killed.
	WaitDelay time.Duration
}

// Run implements Runner.
func (e Exec) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	limit := e.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	err := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("%s: %w", name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("starting %s: %w", name, err)
	}
	return out, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
