// ABOUTME: run_command tool and the named-command allowlist it enforces.
// ABOUTME: Callers choose a name; the executable and its arguments come only from the table.

package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/workbridge/internal/protocol"
)

// Command is an allowlisted executable and its fixed arguments.
type Command struct {
	Executable string
	Args       []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Executable}, c.Args...), " ")
}

// Allowlist maps command names to commands. Lookup is case-sensitive.
type Allowlist struct {
	commands map[string]Command
}

// DefaultAllowlist permits test, lint and build through npm.
func DefaultAllowlist() Allowlist {
	return Allowlist{commands: map[string]Command{
		"test":  {Executable: "npm", Args: []string{"test"}},
		"lint":  {Executable: "npm", Args: []string{"run", "lint"}},
		"build": {Executable: "npm", Args: []string{"run", "build"}},
	}}
}

// With returns a copy extended (or overridden) by extra, where each value is
// an argv whose first element is the executable. Empty argv are ignored.
func (a Allowlist) With(extra map[string][]string) Allowlist {
	out := Allowlist{commands: make(map[string]Command, len(a.commands)+len(extra))}
	for name, cmd := range a.commands {
		out.commands[name] = cmd
	}
	for name, argv := range extra {
		if name == "" || len(argv) == 0 || argv[0] == "" {
			continue
		}
		out.commands[name] = Command{Executable: argv[0], Args: append([]string(nil), argv[1:]...)}
	}
	return out
}

// Lookup returns the command registered under name.
func (a Allowlist) Lookup(name string) (Command, bool) {
	cmd, ok := a.commands[name]
	return cmd, ok
}

// Names returns the allowed names, sorted.
func (a Allowlist) Names() []string {
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a Allowlist) Len() int {
	return len(a.commands)
}

type commandResult struct {
	CommandName string `json:"commandName"`
	ExitCode    int    `json:"exitCode"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func (r commandResult) auditDetail() string {
	return fmt.Sprintf("exit %d", r.ExitCode)
}

func (e *Executor) runCommand(ctx context.Context, in map[string]string) (any, error) {
	name, err := required(in, "commandName")
	if err != nil {
		return nil, err
	}
	cmd, ok := e.allow.Lookup(name)
	if !ok {
		return nil, protocol.Errorf(protocol.KindPolicy, protocol.CodeNotAllowed,
			"command %q is not allowed. Allowed: %s", name, strings.Join(e.allow.Names(), ", "))
	}

	e.logger.Info("running command", "command_name", name, "argv", cmd.String())

	runCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	out, err := e.runner.Run(runCtx, e.root, cmd.Executable, cmd.Args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.Errorf(protocol.KindTimeout, protocol.CodeDeadline,
				"command %q exceeded %s", name, e.commandTimeout)
		}
		return nil, protocol.Errorf(protocol.KindExecution, "", "running %q: %v", name, err)
	}
	return commandResult{
		CommandName: name,
		ExitCode:    out.ExitCode,
		Stdout:      out.Stdout,
		Stderr:      out.Stderr,
		Truncated:   out.Truncated,
	}, nil
}
