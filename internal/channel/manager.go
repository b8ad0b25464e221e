// ABOUTME: Owns the single executor link: authenticates, upgrades, registers on hello, replaces on reconnect.
// ABOUTME: Single source of truth for whether dispatch to the executor is possible.

package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/workbridge/internal/auth"
	"github.com/2389/workbridge/internal/protocol"
)

const (
	defaultHelloTimeout = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 32 << 20 // file contents and diffs can be large
)

// State is a snapshot of the executor link.
type State struct {
	Connected     bool      `json:"connected"`
	LinkID        string    `json:"linkId,omitempty"`
	WorkspaceRoot string    `json:"workspaceRoot,omitempty"`
	Hostname      string    `json:"hostname,omitempty"`
	Version       string    `json:"version,omitempty"`
	RemoteAddr    string    `json:"remoteAddr,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt,omitempty"`
}

// FrameHandler receives every inbound non-hello frame.
type FrameHandler func(data []byte)

// Config configures a Manager.
type Config struct {
	Secret       *auth.SharedSecret
	Logger       *slog.Logger
	HelloTimeout time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

type link struct {
	conn    *websocket.Conn
	state   State
	writeMu sync.Mutex
}

// Manager accepts executor connections on the bridge endpoint.
type Manager struct {
	secret       *auth.SharedSecret
	logger       *slog.Logger
	helloTimeout time.Duration
	writeTimeout time.Duration
	readLimit    int64

	// attachMu serializes registration and teardown so that pending calls are
	// failed before a replacement link becomes visible.
	attachMu sync.Mutex

	mu       sync.RWMutex
	current  *link
	onFrame  FrameHandler
	onDetach []func(error)
	onState  []func(State)
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		secret:       cfg.Secret,
		logger:       cfg.Logger,
		helloTimeout: cfg.HelloTimeout,
		writeTimeout: cfg.WriteTimeout,
		readLimit:    cfg.ReadLimit,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "channel")
	if m.helloTimeout <= 0 {
		m.helloTimeout = defaultHelloTimeout
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = defaultWriteTimeout
	}
	if m.readLimit <= 0 {
		m.readLimit = defaultReadLimit
	}
	return m
}

// HandleFrames registers the receiver for inbound frames.
func (m *Manager) HandleFrames(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = h
}

// OnDetach registers fn to run whenever the active link goes away, whether by
// disconnect or by replacement. It runs before any replacement is registered.
func (m *Manager) OnDetach(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetach = append(m.onDetach, fn)
}

// OnStateChange registers fn to receive every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// Connected reports whether an executor is registered.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// State returns a snapshot of the current link.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return State{}
	}
	return m.current.state
}

// Send writes frame to the active link.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	m.mu.RLock()
	l := m.current
	m.mu.RUnlock()
	if l == nil {
		return protocol.Errorf(protocol.KindUnavailable, "", "executor is not connected")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := l.conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return protocol.Errorf(protocol.KindUnavailable, protocol.CodeClosed, "writing to executor: %v", err)
	}
	return nil
}

// ServeHTTP authenticates and upgrades an executor connection, then serves it
// until it closes or is replaced.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.secret == nil || !m.secret.Authorize(r) {
		m.logger.Warn("rejected executor connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		m.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(m.readLimit)
	defer conn.CloseNow()

	ctx := r.Context()

	hello, err := m.readHello(ctx, conn)
	if err != nil {
		m.logger.Warn("executor did not say hello", "remote_addr", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	l := &link{
		conn: conn,
		state: State{
			Connected:     true,
			LinkID:        uuid.New().String(),
			WorkspaceRoot: hello.Root(),
			Hostname:      hello.Hostname,
			Version:       hello.Version,
			RemoteAddr:    r.RemoteAddr,
			ConnectedAt:   time.Now(),
		},
	}
	m.attach(l)

	err = m.readLoop(ctx, l)
	m.detach(l, err)
}

func (m *Manager) readHello(ctx context.Context, conn *websocket.Conn) (protocol.Hello, error) {
	helloCtx, cancel := context.WithTimeout(ctx, m.helloTimeout)
	defer cancel()

	var hello protocol.Hello
	_, data, err := conn.Read(helloCtx)
	if err != nil {
		return hello, err
	}
	if err := json.Unmarshal(data, &hello); err != nil {
		return hello, err
	}
	if !protocol.IsHello(hello.Type) {
		return hello, protocol.Errorf(protocol.KindValidation, "", "first frame has type %q", hello.Type)
	}
	return hello, nil
}

func (m *Manager) readLoop(ctx context.Context, l *link) error {
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			return err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if protocol.IsHello(env.Type) {
			m.rehello(l, data)
			continue
		}

		m.mu.RLock()
		handler := m.onFrame
		m.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

// rehello updates the workspace root when an executor repeats its hello.
func (m *Manager) rehello(l *link, data []byte) {
	var hello protocol.Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		return
	}
	m.mu.Lock()
	if m.current != l {
		m.mu.Unlock()
		return
	}
	l.state.WorkspaceRoot = hello.Root()
	state := l.state
	m.mu.Unlock()

	m.logger.Info("executor workspace updated", "workspace_root", hello.Root())
	m.notify(state)
}

func (m *Manager) attach(l *link) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("replacing executor connection",
			"old_link", old.state.LinkID,
			"new_link", l.state.LinkID,
		)
		go old.conn.Close(websocket.StatusPolicyViolation, "replaced by a new executor connection")
		m.runDetach(protocol.Errorf(protocol.KindUnavailable, protocol.CodeClosed,
			"executor connection replaced"))
	}

	m.mu.Lock()
	m.current = l
	m.mu.Unlock()

	m.logger.Info("=== EXECUTOR CONNECTED ===",
		"link_id", l.state.LinkID,
		"workspace_root", l.state.WorkspaceRoot,
		"hostname", l.state.Hostname,
		"remote_addr", l.state.RemoteAddr,
	)
	m.notify(l.state)
}

func (m *Manager) detach(l *link, cause error) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.mu.Lock()
	if m.current != l {
		// Already replaced; the replacement failed this link's calls.
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	m.logger.Info("=== EXECUTOR DISCONNECTED ===",
		"link_id", l.state.LinkID,
		"connected_for", time.Since(l.state.ConnectedAt).Round(time.Second),
		"cause", cause,
	)
	m.runDetach(protocol.Errorf(protocol.KindUnavailable, protocol.CodeClosed, "executor disconnected"))
	m.notify(State{})
}

func (m *Manager) runDetach(err error) {
	m.mu.RLock()
	hooks := append([]func(error){}, m.onDetach...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func (m *Manager) notify(state State) {
	m.mu.RLock()
	hooks := append([]func(State){}, m.onState...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(state)
	}
}

// Close disconnects the active executor, if any.
func (m *Manager) Close() {
	m.mu.RLock()
	l := m.current
	m.mu.RUnlock()
	if l != nil {
		l.conn.Close(websocket.StatusGoingAway, "gateway shutting down")
	}
}
