// ABOUTME: Scripted Runner for tests: records every invocation and replays canned outputs.
// ABOUTME: Responses are keyed by the joined argv, e.g. "git status --porcelain".

package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// Argv returns name and args joined by spaces.
func (c Call) Argv() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is a canned result for one argv.
type Response struct {
	Output Output
	Err    error
	// Hook runs before the response is returned; it may block on ctx.
	Hook func(ctx context.Context) error
}

// Fake is a Runner that never spawns processes.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Call
}

// NewFake creates an empty Fake. Unscripted argv succeed with empty output.
func NewFake() *Fake {
	return &Fake{responses: make(map[string]Response)}
}

// On scripts the response for argv.
func (f *Fake) On(argv string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[argv] = resp
	return f
}

// Calls returns a copy of every recorded invocation.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Run implements Runner.
func (f *Fake) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	resp, ok := f.responses[call.Argv()]
	f.mu.Unlock()

	if !ok {
		return Output{}, nil
	}
	if resp.Hook != nil {
		if err := resp.Hook(ctx); err != nil {
			return Output{ExitCode: -1}, fmt.Errorf("%s: %w", name, err)
		}
	}
	return resp.Output, resp.Err
}
