// ABOUTME: Boundary between observer sessions and whatever drives the tool-calling loop.
// ABOUTME: A Conversation turns one user message into emitted turns, calling tools as it goes.

package conversation

import (
	"context"
	"encoding/json"

	"github.com/2389/workbridge/internal/confirm"
)

// TurnKind distinguishes emitted turns.
type TurnKind string

const (
	TurnText    TurnKind = "text"
	TurnConfirm TurnKind = "confirm"
)

// Turn is one piece of output from a conversation.
// Confirm turns carry a question and options parsed from assistant text.
type Turn struct {
	Kind     TurnKind
	Content  string
	Question string
	Options  []string
}

// Tools performs tool calls for a conversation. Gated calls block until a
// human answers; a declined call returns a confirm.Cancelled result.
type Tools interface {
	Invoke(ctx context.Context, call confirm.Call) (json.RawMessage, error)
}

// ToolsFunc adapts a function to Tools.
type ToolsFunc func(ctx context.Context, call confirm.Call) (json.RawMessage, error)

// Invoke implements Tools.
func (f ToolsFunc) Invoke(ctx context.Context, call confirm.Call) (json.RawMessage, error) {
	return f(ctx, call)
}

// Conversation processes user messages.
type Conversation interface {
	Process(ctx context.Context, text string, tools Tools, emit func(Turn)) error
}
