// ABOUTME: git_status and git_diff tools: read-only git queries run in the workspace root.
// ABOUTME: Each tool issues its two git commands concurrently.

package executor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/2389/workbridge/internal/protocol"
)

type gitStatusResult struct {
	Branch string `json:"branch"`
	Status string `json:"status"`
	Clean  bool   `json:"clean"`
}

func (r gitStatusResult) auditDetail() string {
	if r.Clean {
		return r.Branch + " clean"
	}
	return r.Branch + " dirty"
}

type gitDiffResult struct {
	Staged   string `json:"staged"`
	Unstaged string `json:"unstaged"`
}

func (e *Executor) gitStatus(ctx context.Context, _ map[string]string) (any, error) {
	var status, branch string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.git(gctx, "status", "--porcelain")
		status = out
		return err
	})
	g.Go(func() error {
		out, err := e.git(gctx, "branch", "--show-current")
		branch = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return gitStatusResult{
		Branch: strings.TrimSpace(branch),
		Status: status,
		Clean:  strings.TrimSpace(status) == "",
	}, nil
}

func (e *Executor) gitDiff(ctx context.Context, _ map[string]string) (any, error) {
	var res gitDiffResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.git(gctx, "diff", "--cached")
		res.Staged = out
		return err
	})
	g.Go(func() error {
		out, err := e.git(gctx, "diff")
		res.Unstaged = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// git runs one git command and returns stdout. A non-zero exit is an
// execution failure carrying git's stderr.
func (e *Executor) git(ctx context.Context, args ...string) (string, error) {
	out, err := e.runner.Run(ctx, e.root, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	if out.ExitCode != 0 {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		return "", protocol.Errorf(protocol.KindExecution, "", "git %s: %s", strings.Join(args, " "), msg)
	}
	return out.Stdout, nil
}
