// ABOUTME: Confirmation gate: holds gated tool calls until a human approves them.
// ABOUTME: Inline requests go to the originating observer; external ones are broadcast to all.

package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workbridge/internal/dedupe"
	"github.com/2389/workbridge/internal/protocol"
)

const (
	DefaultInlineTimeout   = 5 * time.Minute
	DefaultExternalTimeout = 120 * time.Second

	settledTTL = 10 * time.Minute
)

// DefaultOptions are offered for gated tool calls. Option 1 approves.
var DefaultOptions = []string{"Yes, apply it", "No, cancel", "Show diff first"}

// DefaultGatedTools require confirmation unless configured otherwise.
var DefaultGatedTools = []string{protocol.ToolPatchApply}

// Provenance records where a confirmation was requested from.
type Provenance string

const (
	ProvenanceInline   Provenance = "inline"
	ProvenanceExternal Provenance = "external"
)

// Request is a question awaiting a human choice.
type Request struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Options    []string          `json:"options"`
	ToolName   string            `json:"toolName,omitempty"`
	ToolInput  map[string]string `json:"toolInput,omitempty"`
	CallID     string            `json:"callId,omitempty"`
	Provenance Provenance        `json:"provenance"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Decision is the outcome of a resolved Request. Choice is 1-based.
type Decision struct {
	Choice   int    `json:"choice"`
	Option   string `json:"option"`
	Approved bool   `json:"approved"`
}

// Call is a tool call the conversation wants to make.
type Call struct {
	ID       string
	ToolName string
	Input    map[string]string
}

// Cancelled is the tool result returned in place of a declined call.
type Cancelled struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
	Choice    int    `json:"choice"`
	Option    string `json:"option"`
	ToolName  string `json:"toolName"`
}

// Dispatcher performs tool calls on the executor.
type Dispatcher interface {
	Call(ctx context.Context, toolName string, input map[string]string) (json.RawMessage, error)
}

// Broadcaster fans an external request out to every connected observer.
// It returns the number of observers the request was queued for.
type Broadcaster interface {
	BroadcastConfirm(req *Request) int
}

// Deliver hands an inline request to the observer that caused it.
// It returns false when nobody can receive it.
type Deliver func(req *Request) bool

// Config configures a Gate.
type Config struct {
	Dispatcher      Dispatcher
	Broadcaster     Broadcaster
	GatedTools      []string
	InlineTimeout   time.Duration
	ExternalTimeout time.Duration
	// Settled remembers resolved ids so duplicate replies are recognised.
	Settled *dedupe.Cache
	Logger  *slog.Logger
}

type waiter struct {
	req *Request
	ch  chan Decision
}

// Gate is the single owner of pending confirmation requests.
type Gate struct {
	dispatcher      Dispatcher
	broadcaster     Broadcaster
	gated           map[string]bool
	inlineTimeout   time.Duration
	externalTimeout time.Duration
	settled         *dedupe.Cache
	ownsSettled     bool
	logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]*waiter
}

// NewGate creates a Gate.
func NewGate(cfg Config) *Gate {
	if cfg.GatedTools == nil {
		cfg.GatedTools = DefaultGatedTools
	}
	if cfg.InlineTimeout <= 0 {
		cfg.InlineTimeout = DefaultInlineTimeout
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = DefaultExternalTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gate{
		dispatcher:      cfg.Dispatcher,
		broadcaster:     cfg.Broadcaster,
		gated:           make(map[string]bool, len(cfg.GatedTools)),
		inlineTimeout:   cfg.InlineTimeout,
		externalTimeout: cfg.ExternalTimeout,
		settled:         cfg.Settled,
		logger:          cfg.Logger.With("component", "confirm"),
		pending:         make(map[string]*waiter),
	}
	if g.settled == nil {
		g.settled = dedupe.New(settledTTL, 1024, time.Minute)
		g.ownsSettled = true
	}
	for _, t := range cfg.GatedTools {
		g.gated[t] = true
	}
	return g
}

// Gated reports whether toolName needs confirmation.
func (g *Gate) Gated(toolName string) bool {
	return g.gated[toolName]
}

// Invoke runs call, asking for confirmation first when the tool is gated.
// A declined call returns a Cancelled result and is never dispatched.
func (g *Gate) Invoke(ctx context.Context, call Call, deliver Deliver) (json.RawMessage, error) {
	if !g.Gated(call.ToolName) {
		return g.dispatcher.Call(ctx, call.ToolName, call.Input)
	}

	req := g.newRequest(ProvenanceInline, Question(call), DefaultOptions)
	req.ToolName = call.ToolName
	req.ToolInput = call.Input
	req.CallID = call.ID

	w := g.register(req)
	if deliver == nil || !deliver(req) {
		g.abandon(req.ID)
		return nil, protocol.Errorf(protocol.KindUnavailable, protocol.CodeNoObservers,
			"no observer connected to confirm %s", call.ToolName)
	}
	g.logger.Info("awaiting inline confirmation", "confirm_id", req.ID, "tool_name", call.ToolName)

	dec, err := g.wait(ctx, w, g.inlineTimeout)
	if err != nil {
		return nil, err
	}
	if !dec.Approved {
		g.logger.Info("tool call declined", "confirm_id", req.ID, "tool_name", call.ToolName, "option", dec.Option)
		return json.Marshal(Cancelled{
			Cancelled: true,
			Message:   "User cancelled this operation",
			Choice:    dec.Choice,
			Option:    dec.Option,
			ToolName:  call.ToolName,
		})
	}
	return g.dispatcher.Call(ctx, call.ToolName, call.Input)
}

// RequestExternal asks every connected observer and returns the first reply.
func (g *Gate) RequestExternal(ctx context.Context, question string, options []string) (Decision, error) {
	if question == "" {
		return Decision{}, protocol.Errorf(protocol.KindValidation, protocol.CodeMissingInput, "question is required")
	}
	if len(options) == 0 {
		return Decision{}, protocol.Errorf(protocol.KindValidation, protocol.CodeMissingInput, "at least one option is required")
	}

	req := g.newRequest(ProvenanceExternal, question, options)
	w := g.register(req)
	if g.broadcaster == nil || g.broadcaster.BroadcastConfirm(req) == 0 {
		g.abandon(req.ID)
		return Decision{}, protocol.Errorf(protocol.KindUnavailable, protocol.CodeNoObservers,
			"no observer connected; open the client first")
	}
	g.logger.Info("awaiting external confirmation", "confirm_id", req.ID, "question", question)

	return g.wait(ctx, w, g.externalTimeout)
}

// Resolve settles request id with a 1-based choice. Only the first
// resolution of an id takes effect; later ones return false.
func (g *Gate) Resolve(id string, choice int) bool {
	return g.resolve(id, choice, "")
}

// ResolveExternal is Resolve restricted to requests from RequestExternal.
func (g *Gate) ResolveExternal(id string, choice int) bool {
	return g.resolve(id, choice, ProvenanceExternal)
}

func (g *Gate) resolve(id string, choice int, want Provenance) bool {
	g.mu.Lock()
	w, ok := g.pending[id]
	if ok && want != "" && w.req.Provenance != want {
		g.mu.Unlock()
		g.logger.Warn("ignoring reply with mismatched provenance", "confirm_id", id, "provenance", w.req.Provenance)
		return false
	}
	if !ok {
		g.mu.Unlock()
		if g.settled.Settled(id) {
			g.logger.Debug("ignoring reply for settled confirmation", "confirm_id", id)
		} else {
			g.logger.Debug("ignoring reply for unknown confirmation", "confirm_id", id)
		}
		return false
	}
	if choice < 1 {
		g.mu.Unlock()
		g.logger.Warn("ignoring invalid confirmation choice", "confirm_id", id, "choice", choice)
		return false
	}
	delete(g.pending, id)
	g.mu.Unlock()

	g.settled.Settle(id)
	dec := decide(w.req, choice)
	w.ch <- dec

	g.logger.Info("confirmation resolved",
		"confirm_id", id,
		"provenance", w.req.Provenance,
		"choice", dec.Choice,
		"approved", dec.Approved,
	)
	return true
}

// Pending returns the outstanding requests.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, w := range g.pending {
		out = append(out, *w.req)
	}
	return out
}

// Close releases the settled-id cache if the gate created it.
func (g *Gate) Close() {
	if g.ownsSettled {
		g.settled.Close()
	}
}

// Question builds the question shown for a gated call.
func Question(call Call) string {
	if call.ToolName == protocol.ToolPatchApply {
		return fmt.Sprintf("Apply patch %s?", call.Input["patchId"])
	}
	return fmt.Sprintf("Allow %s?", call.ToolName)
}

func decide(req *Request, choice int) Decision {
	option := fmt.Sprintf("Choice %d", choice)
	if choice <= len(req.Options) {
		option = req.Options[choice-1]
	}
	return Decision{Choice: choice, Option: option, Approved: choice == 1}
}

func (g *Gate) newRequest(p Provenance, question string, options []string) *Request {
	return &Request{
		ID:         uuid.New().String(),
		Question:   question,
		Options:    append([]string(nil), options...),
		Provenance: p,
		CreatedAt:  time.Now(),
	}
}

func (g *Gate) register(req *Request) *waiter {
	w := &waiter{req: req, ch: make(chan Decision, 1)}
	g.mu.Lock()
	g.pending[req.ID] = w
	g.mu.Unlock()
	return w
}

// abandon removes id without a decision. It returns false if a resolver
// already claimed it.
func (g *Gate) abandon(id string) bool {
	g.mu.Lock()
	_, ok := g.pending[id]
	delete(g.pending, id)
	g.mu.Unlock()
	if ok {
		g.settled.Settle(id)
	}
	return ok
}

func (g *Gate) wait(ctx context.Context, w *waiter, timeout time.Duration) (Decision, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case dec := <-w.ch:
		return dec, nil
	case <-timer.C:
		if !g.abandon(w.req.ID) {
			return <-w.ch, nil
		}
		g.logger.Warn("confirmation timed out", "confirm_id", w.req.ID, "timeout", timeout)
		return Decision{}, protocol.Errorf(protocol.KindTimeout, protocol.CodeDeadline,
			"confirmation timed out after %s with no response", timeout)
	case <-ctx.Done():
		if !g.abandon(w.req.ID) {
			return <-w.ch, nil
		}
		return Decision{}, protocol.AsError(ctx.Err())
	}
}
