// ABOUTME: Tool executor: validates and performs one workspace operation per request.
// ABOUTME: Every request is audited and converted into a result or a classified error frame.

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/2389/workbridge/internal/patch"
	"github.com/2389/workbridge/internal/protocol"
	"github.com/2389/workbridge/internal/runner"
	"github.com/2389/workbridge/internal/store"
)

const (
	// DefaultCommandTimeout bounds each run_command invocation.
	DefaultCommandTimeout = 60 * time.Second

	// DefaultMaxFileSize caps read_file and the files search_code will scan.
	DefaultMaxFileSize = 8 << 20
)

// PatchStager stages and applies diffs for the patch tools.
type PatchStager interface {
	Prepare(diff string) (*patch.Summary, error)
	Apply(ctx context.Context, id string) (*patch.Applied, error)
}

// Config configures an Executor.
type Config struct {
	// Root is the workspace root. Every path operation is confined to it.
	Root string

	Runner         runner.Runner
	Patches        PatchStager
	Audit          store.AuditLog
	Allowlist      Allowlist
	CommandTimeout time.Duration
	MaxFileSize    int64
	Logger         *slog.Logger
}

// toolFunc performs one tool and returns its JSON-serializable result.
type toolFunc func(ctx context.Context, in map[string]string) (any, error)

// detailer lets a result contribute a short audit detail.
type detailer interface {
	auditDetail() string
}

// Executor implements agent.Handler.
type Executor struct {
	root           string
	runner         runner.Runner
	patches        PatchStager
	audit          store.AuditLog
	allow          Allowlist
	commandTimeout time.Duration
	maxFileSize    int64
	logger         *slog.Logger

	tools map[string]toolFunc
}

// New creates an Executor for the given workspace.
func New(cfg Config) (*Executor, error) {
	if cfg.Root == "" {
		return nil, errors.New("workspace root is required")
	}
	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("workspace root must be absolute: %s", cfg.Root)
	}
	if cfg.Runner == nil {
		cfg.Runner = runner.Exec{}
	}
	if cfg.Allowlist.Len() == 0 {
		cfg.Allowlist = DefaultAllowlist()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Executor{
		root:           canonicalRoot(cfg.Root),
		runner:         cfg.Runner,
		patches:        cfg.Patches,
		audit:          cfg.Audit,
		allow:          cfg.Allowlist,
		commandTimeout: cfg.CommandTimeout,
		maxFileSize:    cfg.MaxFileSize,
		logger:         cfg.Logger.With("component", "executor"),
	}
	e.tools = map[string]toolFunc{
		protocol.ToolReadFile:     e.readFile,
		protocol.ToolSearchCode:   e.searchCode,
		protocol.ToolGitStatus:    e.gitStatus,
		protocol.ToolGitDiff:      e.gitDiff,
		protocol.ToolRunCommand:   e.runCommand,
		protocol.ToolPatchPrepare: e.patchPrepare,
		protocol.ToolPatchApply:   e.patchApply,
	}
	return e, nil
}

// Root returns the canonical workspace root.
func (e *Executor) Root() string {
	return e.root
}

// Handle performs one request. It never panics.
func (e *Executor) Handle(ctx context.Context, req protocol.ToolRequest) (res protocol.ToolResult) {
	start := time.Now()
	var payload any
	var err error

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool_name", req.ToolName,
				"request_id", req.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			payload = nil
			err = protocol.Errorf(protocol.KindExecution, "", "internal error in %s", req.ToolName)
		}
		res = e.finish(ctx, req, payload, err, time.Since(start))
	}()

	tool, ok := e.tools[req.ToolName]
	if !ok {
		err = protocol.Errorf(protocol.KindValidation, protocol.CodeUnknownTool, "unknown tool: %s", req.ToolName)
		return
	}
	payload, err = tool(ctx, req.Input)
	return
}

func (e *Executor) finish(ctx context.Context, req protocol.ToolRequest, payload any, err error, elapsed time.Duration) protocol.ToolResult {
	var res protocol.ToolResult
	if err == nil {
		res, err = protocol.Success(req.ID, payload)
	}
	if err != nil {
		res = protocol.Failure(req.ID, err)
	}

	entry := &store.AuditEntry{
		RequestID: req.ID,
		Tool:      req.ToolName,
		Input:     req.Input,
		Outcome:   store.OutcomeOK,
		Duration:  elapsed,
	}
	if err != nil {
		entry.ErrorKind = string(res.ErrorKind)
		entry.Detail = res.Error
		entry.Outcome = store.OutcomeError
		if res.ErrorKind == protocol.KindPolicy {
			entry.Outcome = store.OutcomeDenied
		}
		e.logger.Warn("tool failed",
			"tool_name", req.ToolName,
			"request_id", req.ID,
			"error_kind", res.ErrorKind,
			"error", res.Error,
			"duration", elapsed,
		)
	} else {
		if d, ok := payload.(detailer); ok {
			entry.Detail = d.auditDetail()
		}
		e.logger.Info("tool completed",
			"tool_name", req.ToolName,
			"request_id", req.ID,
			"duration", elapsed,
		)
	}
	e.record(ctx, entry)
	return res
}

func (e *Executor) record(ctx context.Context, entry *store.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.AppendAuditLog(ctx, entry); err != nil {
		e.logger.Warn("failed to write audit entry", "tool_name", entry.Tool, "error", err)
	}
}

func required(in map[string]string, key string) (string, error) {
	v := in[key]
	if v == "" {
		return "", protocol.Errorf(protocol.KindValidation, protocol.CodeMissingInput, "missing %s parameter", key)
	}
	return v, nil
}

func (e *Executor) patchPrepare(_ context.Context, in map[string]string) (any, error) {
	if e.patches == nil {
		return nil, protocol.Errorf(protocol.KindExecution, "", "patch staging is not configured")
	}
	diff, err := required(in, "diff")
	if err != nil {
		return nil, err
	}
	return e.patches.Prepare(diff)
}

func (e *Executor) patchApply(ctx context.Context, in map[string]string) (any, error) {
	if e.patches == nil {
		return nil, protocol.Errorf(protocol.KindExecution, "", "patch staging is not configured")
	}
	id, err := required(in, "patchId")
	if err != nil {
		return nil, err
	}
	return e.patches.Apply(ctx, id)
}
