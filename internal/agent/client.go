// ABOUTME: Executor side of the bridge link: dials the gateway, says hello, and serves tool requests.
// ABOUTME: Reconnects with a fixed delay; a 401 handshake is terminal.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/workbridge/internal/protocol"
)

// ErrAuthRejected is returned when the gateway rejects the handshake with 401.
var ErrAuthRejected = errors.New("gateway rejected authentication (401)")

const (
	defaultReconnectDelay = 3 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultReadLimit      = 32 << 20
)

// Handler performs one tool request. It must always return a frame.
type Handler interface {
	Handle(ctx context.Context, req protocol.ToolRequest) protocol.ToolResult
}

// Config configures a Client.
type Config struct {
	GatewayURL    string // http(s):// or ws(s):// base URL of the gateway
	Token         string
	WorkspaceRoot string
	Hostname      string
	Version       string

	Handler Handler
	Logger  *slog.Logger

	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	// OnStateChange is called on connection state transitions:
	// "connecting", "connected", "disconnected", "auth_failed".
	OnStateChange func(state string, err error)
}

// Client maintains the outbound link to the gateway.
type Client struct {
	cfg    Config
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Handler == nil {
		return nil, errors.New("agent: handler is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("agent: workspace root is required")
	}
	u, err := BridgeURL(cfg.GatewayURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		url:    u,
		logger: logger.With("component", "agent"),
	}, nil
}

// BridgeURL turns a gateway base URL into the bridge endpoint URL,
// mapping http to ws and carrying the token as a query parameter.
func BridgeURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("gateway url %q has no host", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/bridge-ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run connects to the gateway and serves requests until ctx is cancelled.
// Returns ErrAuthRejected if the gateway rejects the token.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			c.notifyState("auth_failed", err)
			return err
		}
		c.notifyState("disconnected", err)
		c.logger.Warn("gateway link lost, reconnecting",
			"error", err,
			"delay", c.cfg.ReconnectDelay,
		)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state, err)
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.cfg.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrAuthRejected
		}
		return c.dialError(err)
	}
	conn.SetReadLimit(defaultReadLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()

	hello := protocol.Hello{
		Type:          protocol.TypeHello,
		WorkspaceRoot: c.cfg.WorkspaceRoot,
		Hostname:      c.cfg.Hostname,
		Version:       c.cfg.Version,
	}
	if err := c.writeJSON(ctx, conn, hello); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	c.logger.Info("connected to gateway", "url", redactToken(c.url), "workspace_root", c.cfg.WorkspaceRoot)
	c.notifyState("connected", nil)

	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(linkCtx, conn)

	for {
		_, data, err := conn.Read(linkCtx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var req protocol.ToolRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" || req.ToolName == "" {
			c.logger.Warn("dropping malformed request", "error", err)
			continue
		}

		// Requests run concurrently; a slow command never blocks the read loop.
		go c.serve(linkCtx, conn, req)
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, req protocol.ToolRequest) {
	start := time.Now()
	res := c.cfg.Handler.Handle(context.WithoutCancel(ctx), req)
	res.ID = req.ID

	if err := c.writeJSON(ctx, conn, res); err != nil {
		c.logger.Warn("failed to send result",
			"tool_name", req.ToolName,
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	c.logger.Debug("request served",
		"tool_name", req.ToolName,
		"request_id", req.ID,
		"type", res.Type,
		"duration", time.Since(start),
	)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// writeJSON serializes writes; coder/websocket allows only one concurrent writer per message.
func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Connected reports whether the link is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// linkError hides the wrapped error's text, which may carry the dial URL.
type linkError struct {
	msg string
	err error
}

func (e *linkError) Error() string { return e.msg }
func (e *linkError) Unwrap() error { return e.err }

// dialError scrubs the token out of a dial failure before it can be logged.
func (c *Client) dialError(err error) error {
	msg := err.Error()
	if tok := c.cfg.Token; tok != "" {
		msg = strings.ReplaceAll(msg, url.QueryEscape(tok), "REDACTED")
		msg = strings.ReplaceAll(msg, tok, "REDACTED")
	}
	msg = strings.ReplaceAll(msg, c.url, redactToken(c.url))
	return &linkError{msg: "dial " + redactToken(c.url) + ": " + msg, err: err}
}

// redactToken drops the query string so the token never reaches the logs.
func redactToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
