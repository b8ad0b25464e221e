// ABOUTME: Correlated request/response client that dispatches tool calls to the executor.
// ABOUTME: Tracks pending calls by id and settles each exactly once: response, timeout, or disconnect.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workbridge/internal/dedupe"
	"github.com/2389/workbridge/internal/protocol"
)

// DefaultTimeout bounds a single tool call when no timeout is given.
const DefaultTimeout = 60 * time.Second

// ErrDuplicateID indicates a generated id collided with an outstanding call.
var ErrDuplicateID = errors.New("duplicate correlation id")

// Sender delivers encoded frames over the executor link.
type Sender interface {
	Connected() bool
	Send(ctx context.Context, frame []byte) error
}

// Config configures a Client.
type Config struct {
	Sender  Sender
	Logger  *slog.Logger
	Timeout time.Duration

	// Settled remembers recently settled ids so late frames log as late
	// rather than unknown. Optional.
	Settled *dedupe.Cache
}

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	done  chan outcome // buffered; written once by whoever settles
	timer *time.Timer
}

// Client owns the pending-call table. All table mutations happen under mu.
type Client struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	settled *dedupe.Cache
	newID   func() string

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sender:  cfg.Sender,
		logger:  logger.With("component", "rpc"),
		timeout: timeout,
		settled: cfg.Settled,
		newID:   func() string { return uuid.New().String() },
		pending: make(map[string]*pendingCall),
	}
}

// Call dispatches toolName with the default timeout and waits for its result.
func (c *Client) Call(ctx context.Context, toolName string, input map[string]string) (json.RawMessage, error) {
	return c.CallWithTimeout(ctx, toolName, input, 0)
}

// CallWithTimeout dispatches toolName and waits up to timeout for its result.
// It fails immediately when the executor is not connected; calls are never queued.
// Cancelling ctx abandons the call locally; work already started remotely keeps running.
func (c *Client) CallWithTimeout(ctx context.Context, toolName string, input map[string]string, timeout time.Duration) (json.RawMessage, error) {
	if !c.sender.Connected() {
		return nil, protocol.Errorf(protocol.KindUnavailable, "",
			"executor is not connected; make sure the agent is running on your dev machine")
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	if input == nil {
		input = map[string]string{}
	}

	id := c.newID()
	frame, err := json.Marshal(protocol.ToolRequest{ID: id, ToolName: toolName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	call, err := c.register(id, toolName, timeout)
	if err != nil {
		return nil, err
	}

	if err := c.sender.Send(ctx, frame); err != nil {
		c.settle(id, outcome{err: sendError(err)})
	} else {
		c.logger.Info("→ dispatched to executor", "tool_name", toolName, "request_id", id)
	}

	select {
	case out := <-call.done:
		return out.result, out.err
	case <-ctx.Done():
		c.settle(id, outcome{err: protocol.AsError(ctx.Err())})
		out := <-call.done
		return out.result, out.err
	}
}

func sendError(err error) error {
	if errors.Is(err, protocol.ErrUnavailable) {
		return err
	}
	return protocol.Errorf(protocol.KindUnavailable, protocol.CodeClosed, "sending request: %v", err)
}

// register inserts a pending call and arms its timer.
func (c *Client) register(id, toolName string, timeout time.Duration) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return nil, ErrDuplicateID
	}
	call := &pendingCall{done: make(chan outcome, 1)}
	call.timer = time.AfterFunc(timeout, func() {
		if c.settle(id, outcome{err: protocol.Errorf(protocol.KindTimeout, protocol.CodeDeadline,
			"tool call %q timed out after %s", toolName, timeout)}) {
			c.logger.Warn("tool call timed out", "tool_name", toolName, "request_id", id, "timeout", timeout)
		}
	})
	c.pending[id] = call
	return call, nil
}

// settle removes id from the table and delivers out to its waiter.
// It returns false when id is not pending, so only the first settlement counts.
func (c *Client) settle(id string, out outcome) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	call.timer.Stop()
	if c.settled != nil {
		c.settled.Settle(id)
	}
	call.done <- out
	return true
}

// HandleFrame matches an inbound result or error frame to its pending call.
// Frames for ids that are not pending are dropped.
func (c *Client) HandleFrame(data []byte) {
	var res protocol.ToolResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	if res.ID == "" {
		return
	}

	var out outcome
	switch {
	case res.IsSuccess():
		out.result = res.Result
	case res.IsFailure():
		out.err = res.Err()
	default:
		c.logger.Debug("ignoring frame", "type", res.Type, "request_id", res.ID)
		return
	}

	if c.settle(res.ID, out) {
		c.logger.Info("← executor responded", "request_id", res.ID, "type", res.Type)
		return
	}
	if c.settled != nil && c.settled.Settled(res.ID) {
		c.logger.Debug("dropping late frame for settled request", "request_id", res.ID)
		return
	}
	c.logger.Warn("received response for unknown request", "request_id", res.ID)
}

// FailAll rejects every outstanding call with err and clears the table.
// It returns the number of calls rejected.
func (c *Client) FailAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for id, call := range calls {
		call.timer.Stop()
		if c.settled != nil {
			c.settled.Settle(id)
		}
		call.done <- outcome{err: err}
	}
	if len(calls) > 0 {
		c.logger.Warn("failed pending calls", "count", len(calls), "error", err)
	}
	return len(calls)
}

// PendingCount returns the number of outstanding calls.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
