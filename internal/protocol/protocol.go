// ABOUTME: Wire frames exchanged between the gateway and the executor over the bridge link.
// ABOUTME: JSON objects: requests {id, toolName, input}, results {id, type, result|error}, hello.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	TypeHello  = "hello"
	TypeResult = "result"
	TypeError  = "error"

	// Accepted on inbound frames for compatibility with older executors.
	TypeToolResult  = "tool_result"
	TypeToolError   = "tool_error"
	TypeBridgeHello = "bridge_hello"
)

// Tool names understood by the executor.
const (
	ToolReadFile     = "read_file"
	ToolSearchCode   = "search_code"
	ToolGitStatus    = "git_status"
	ToolGitDiff      = "git_diff"
	ToolRunCommand   = "run_command"
	ToolPatchPrepare = "patch_prepare"
	ToolPatchApply   = "patch_apply"
)

// Tools lists every supported tool in a stable order.
var Tools = []string{
	ToolReadFile,
	ToolSearchCode,
	ToolGitStatus,
	ToolGitDiff,
	ToolRunCommand,
	ToolPatchPrepare,
	ToolPatchApply,
}

// IsTool reports whether name is a supported tool.
func IsTool(name string) bool {
	for _, t := range Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Envelope is decoded first to route a frame by its type field.
type Envelope struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Hello is sent by the executor once per connection.
type Hello struct {
	Type          string `json:"type"`
	WorkspaceRoot string `json:"workspaceRoot"`
	Hostname      string `json:"hostname,omitempty"`
	Version       string `json:"version,omitempty"`

	// ProjectRoot is the older spelling of WorkspaceRoot.
	ProjectRoot string `json:"projectRoot,omitempty"`
}

// IsHello reports whether frameType announces an executor.
func IsHello(frameType string) bool {
	return frameType == TypeHello || frameType == TypeBridgeHello
}

// Root returns the advertised workspace root under either field name.
func (h Hello) Root() string {
	if h.WorkspaceRoot != "" {
		return h.WorkspaceRoot
	}
	return h.ProjectRoot
}

// ToolRequest is sent by the gateway to invoke one tool.
type ToolRequest struct {
	ID       string            `json:"id"`
	ToolName string            `json:"toolName"`
	Input    map[string]string `json:"input"`
}

// ToolResult is sent by the executor in reply to a ToolRequest.
// Exactly one of Result or Error is meaningful, selected by Type.
type ToolResult struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind Kind            `json:"errorKind,omitempty"`
	ErrorCode Code            `json:"errorCode,omitempty"`
}

// IsSuccess reports whether the frame carries a result.
func (r ToolResult) IsSuccess() bool {
	return r.Type == TypeResult || r.Type == TypeToolResult
}

// IsFailure reports whether the frame carries an error.
func (r ToolResult) IsFailure() bool {
	return r.Type == TypeError || r.Type == TypeToolError
}

// Err converts a failure frame back into a *Error.
func (r ToolResult) Err() *Error {
	kind := r.ErrorKind
	if kind == "" {
		kind = KindExecution
	}
	msg := r.Error
	if msg == "" {
		msg = "executor tool error"
	}
	return &Error{Kind: kind, Code: r.ErrorCode, Message: msg}
}

// Success builds a result frame, marshaling payload to JSON.
func Success(id string, payload any) (ToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ToolResult{}, fmt.Errorf("marshaling result: %w", err)
	}
	return ToolResult{ID: id, Type: TypeResult, Result: data}, nil
}

// Failure builds an error frame from any error, preserving its classification.
func Failure(id string, err error) ToolResult {
	e := AsError(err)
	return ToolResult{
		ID:        id,
		Type:      TypeError,
		Error:     e.Message,
		ErrorKind: e.Kind,
		ErrorCode: e.Code,
	}
}
