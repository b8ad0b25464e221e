// ABOUTME: Deterministic Conversation that maps short commands onto tool calls.
// ABOUTME: Used when no model-driven loop is attached, and in tests.

package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/workbridge/internal/confirm"
	"github.com/2389/workbridge/internal/protocol"
)

const helpText = `Commands:
  read <path>              read a file
  search <query> [in <dir>] search the workspace
  status                   git status
  diff                     git diff
  run <test|lint|build>    run an allowlisted command
  prepare                  stage the diff on the following lines
  apply <patchId>          apply a staged patch (asks for confirmation)`

// Commands is a Conversation driven by a fixed command grammar.
type Commands struct{}

// Process implements Conversation.
func (Commands) Process(ctx context.Context, text string, tools Tools, emit func(Turn)) error {
	call, ok := parseCommand(text)
	if !ok {
		emit(Turn{Kind: TurnText, Content: helpText})
		return nil
	}
	call.ID = uuid.New().String()

	out, err := tools.Invoke(ctx, call)
	if err != nil {
		e := protocol.AsError(err)
		emit(Turn{Kind: TurnText, Content: fmt.Sprintf("%s failed (%s): %s", call.ToolName, e.Kind, e.Message)})
		return nil
	}

	var cancelled confirm.Cancelled
	if json.Unmarshal(out, &cancelled) == nil && cancelled.Cancelled {
		emit(Turn{Kind: TurnText, Content: fmt.Sprintf("Cancelled %s (%s).", call.ToolName, cancelled.Option)})
		return nil
	}
	emit(Turn{Kind: TurnText, Content: formatResult(call.ToolName, out)})
	return nil
}

func parseCommand(text string) (confirm.Call, bool) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return confirm.Call{}, false
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "read":
		if len(args) != 1 {
			return confirm.Call{}, false
		}
		return confirm.Call{ToolName: protocol.ToolReadFile, Input: map[string]string{"path": args[0]}}, true
	case "search":
		if len(args) == 0 {
			return confirm.Call{}, false
		}
		input := map[string]string{}
		if len(args) >= 3 && args[len(args)-2] == "in" {
			input["root"] = args[len(args)-1]
			args = args[:len(args)-2]
		}
		input["query"] = strings.Join(args, " ")
		return confirm.Call{ToolName: protocol.ToolSearchCode, Input: input}, true
	case "status":
		return confirm.Call{ToolName: protocol.ToolGitStatus, Input: map[string]string{}}, true
	case "diff":
		return confirm.Call{ToolName: protocol.ToolGitDiff, Input: map[string]string{}}, true
	case "run":
		if len(args) != 1 {
			return confirm.Call{}, false
		}
		return confirm.Call{ToolName: protocol.ToolRunCommand, Input: map[string]string{"commandName": args[0]}}, true
	case "prepare":
		if strings.TrimSpace(rest) == "" {
			return confirm.Call{}, false
		}
		return confirm.Call{ToolName: protocol.ToolPatchPrepare, Input: map[string]string{"diff": rest + "\n"}}, true
	case "apply":
		if len(args) != 1 {
			return confirm.Call{}, false
		}
		return confirm.Call{ToolName: protocol.ToolPatchApply, Input: map[string]string{"patchId": args[0]}}, true
	}
	return confirm.Call{}, false
}

func formatResult(toolName string, out json.RawMessage) string {
	switch toolName {
	case protocol.ToolReadFile:
		var r struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if json.Unmarshal(out, &r) == nil {
			return fmt.Sprintf("%s:\n%s", r.Path, r.Content)
		}
	case protocol.ToolPatchPrepare:
		var r struct {
			PatchID string `json:"patchId"`
			Summary string `json:"summary"`
		}
		if json.Unmarshal(out, &r) == nil && r.PatchID != "" {
			return fmt.Sprintf("Staged patch %s: %s. Say \"apply %s\" to apply it.", r.PatchID, r.Summary, r.PatchID)
		}
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, out, "", "  "); err != nil {
		return string(out)
	}
	return toolName + ":\n" + buf.String()
}
