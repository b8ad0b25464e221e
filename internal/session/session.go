// ABOUTME: Observer WebSocket sessions: passcode or token auth, conversation turns, confirmations.
// ABOUTME: One turn runs at a time per session so a confirm reply can unblock a waiting turn.

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/workbridge/internal/auth"
	"github.com/2389/workbridge/internal/confirm"
	"github.com/2389/workbridge/internal/conversation"
)

const (
	DefaultTokenTTL     = 24 * time.Hour
	DefaultWriteTimeout = 10 * time.Second
)

// Config configures the observer handler.
type Config struct {
	Passcode     *auth.Passcode
	Tokens       *auth.JWTVerifier
	TokenTTL     time.Duration
	Hub          *Hub
	Gate         *confirm.Gate
	Service      *conversation.Service
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Handler serves /ws.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.Service == nil {
		cfg.Service = conversation.New(nil, nil, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: cfg.Logger.With("component", "session")}
}

// textConfirm is a question parsed from assistant text, with no tool behind it.
type textConfirm struct {
	question string
	options  []string
}

type observer struct {
	h      *Handler
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	out    chan ServerMessage
	logger *slog.Logger

	authenticated bool
	busy          atomic.Bool

	mu            sync.Mutex
	pendingInline string
	pendingText   *textConfirm
}

// ServeHTTP upgrades the request and runs the session until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	o := &observer{
		h:    h,
		id:   uuid.New().String(),
		conn: conn,
		ctx:  ctx,
		out:  make(chan ServerMessage, outboundBufferSize),
	}
	o.logger = h.logger.With("session_id", o.id)
	o.logger.Debug("observer connected", "remote_addr", r.RemoteAddr)

	go o.writeLoop()

	err = o.readLoop()

	cancel()
	h.cfg.Hub.Remove(o.id)
	if o.authenticated {
		h.cfg.Service.Note("Client disconnected")
	}
	o.logger.Info("observer disconnected", "reason", err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (o *observer) writeLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case msg := <-o.out:
			writeCtx, cancel := context.WithTimeout(o.ctx, o.h.cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, o.conn, msg)
			cancel()
			if err != nil {
				o.logger.Debug("write failed", "type", msg.Type, "error", err)
				return
			}
		}
	}
}

// send queues msg, waiting while the queue is full.
func (o *observer) send(msg ServerMessage) bool {
	select {
	case o.out <- msg:
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *observer) readLoop() error {
	for {
		_, data, err := o.conn.Read(o.ctx)
		if err != nil {
			return err
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			o.send(ServerMessage{Type: MsgError, Content: "Invalid JSON"})
			continue
		}
		o.handle(msg)
	}
}

func (o *observer) handle(msg ClientMessage) {
	if msg.Type == MsgAuth {
		o.authenticate(msg)
		return
	}
	if !o.authenticated {
		o.send(ServerMessage{Type: MsgAuthFail, Content: "Not authenticated. Send auth message first."})
		return
	}

	switch msg.Type {
	case MsgConfirm:
		o.confirm(msg)
	case MsgText:
		if msg.Content == "" {
			o.send(ServerMessage{Type: MsgError, Content: "Empty message"})
			return
		}
		o.startTurn(msg.Content)
	default:
		o.send(ServerMessage{Type: MsgError, Content: "Unknown message type"})
	}
}

func (o *observer) authenticate(msg ClientMessage) {
	ok := false
	method := "passcode"
	switch {
	case msg.Token != "" && o.h.cfg.Tokens != nil:
		method = "token"
		_, err := o.h.cfg.Tokens.Verify(msg.Token)
		ok = err == nil
	case o.h.cfg.Passcode != nil:
		ok = o.h.cfg.Passcode.Check(msg.Passcode)
	}
	if !ok {
		o.logger.Warn("observer authentication failed", "method", method)
		o.send(ServerMessage{Type: MsgAuthFail, Content: "Invalid passcode"})
		return
	}

	reply := ServerMessage{Type: MsgAuthOK, Content: "Authenticated"}
	if o.h.cfg.Tokens != nil {
		token, err := o.h.cfg.Tokens.Generate(o.id, o.h.cfg.TokenTTL)
		if err != nil {
			o.logger.Error("failed to issue session token", "error", err)
		} else {
			reply.Token = token
		}
	}

	if !o.authenticated {
		o.authenticated = true
		o.h.cfg.Hub.Add(o.id, o.out)
		o.h.cfg.Service.Note("Client connected and authenticated")
		o.logger.Info("observer authenticated", "method", method)
	}
	o.send(reply)
}

func (o *observer) confirm(msg ClientMessage) {
	gate := o.h.cfg.Gate

	if msg.Choice < 1 {
		o.send(ServerMessage{Type: MsgError, Content: "Invalid choice"})
		return
	}

	if msg.ExternalID != "" {
		if gate != nil && gate.ResolveExternal(msg.ExternalID, msg.Choice) {
			o.send(ServerMessage{Type: MsgStatus, Content: "Response sent."})
		} else {
			o.send(ServerMessage{Type: MsgError, Content: "Confirmation expired or not found."})
		}
		return
	}

	// Inline answers only settle this session's own pending request.
	o.mu.Lock()
	id := o.pendingInline
	owned := msg.ID == "" || msg.ID == id
	var text *textConfirm
	if id == "" && msg.ID == "" {
		text, o.pendingText = o.pendingText, nil
	}
	o.mu.Unlock()

	switch {
	case !owned:
		o.send(ServerMessage{Type: MsgError, Content: "Confirmation expired or not found."})
	case id != "":
		if gate == nil || !gate.Resolve(id, msg.Choice) {
			o.send(ServerMessage{Type: MsgError, Content: "Confirmation expired or not found."})
			return
		}
		if msg.Choice == 1 {
			o.send(ServerMessage{Type: MsgStatus, Content: "Confirmed. Executing..."})
		} else {
			o.send(ServerMessage{Type: MsgStatus, Content: "Cancelled."})
		}
	case text != nil:
		if msg.Choice > len(text.options) {
			o.mu.Lock()
			o.pendingText = text
			o.mu.Unlock()
			o.send(ServerMessage{Type: MsgError, Content: fmt.Sprintf("Choose 1 to %d.", len(text.options))})
			return
		}
		o.startTurn(text.options[msg.Choice-1])
	default:
		o.send(ServerMessage{Type: MsgError, Content: "No confirmation pending."})
	}
}

func (o *observer) startTurn(text string) {
	if !o.busy.CompareAndSwap(false, true) {
		o.send(ServerMessage{Type: MsgError, Content: "Still working on the previous message."})
		return
	}
	o.send(ServerMessage{Type: MsgStatus, Content: "Thinking..."})

	go func() {
		defer o.busy.Store(false)
		if err := o.h.cfg.Service.Send(o.ctx, text, conversation.ToolsFunc(o.invoke), o.emit); err != nil {
			o.send(ServerMessage{Type: MsgError, Content: "Error: " + err.Error()})
		}
	}()
}

func (o *observer) invoke(ctx context.Context, call confirm.Call) (json.RawMessage, error) {
	if o.h.cfg.Gate == nil {
		return nil, fmt.Errorf("no executor gate configured")
	}
	out, err := o.h.cfg.Gate.Invoke(ctx, call, o.deliverInline)

	o.mu.Lock()
	o.pendingInline = ""
	o.mu.Unlock()
	return out, err
}

func (o *observer) deliverInline(req *confirm.Request) bool {
	if o.ctx.Err() != nil {
		return false
	}
	o.mu.Lock()
	o.pendingInline = req.ID
	o.mu.Unlock()

	return o.send(ServerMessage{
		Type:    MsgConfirm,
		Content: fmt.Sprintf("Tool %q requires your confirmation.", req.ToolName),
		ConfirmData: &ConfirmData{
			ID:        req.ID,
			Question:  req.Question,
			Options:   req.Options,
			ToolName:  req.ToolName,
			ToolInput: req.ToolInput,
			CallID:    req.CallID,
		},
	})
}

func (o *observer) emit(turn conversation.Turn) {
	switch turn.Kind {
	case conversation.TurnText:
		o.send(ServerMessage{Type: MsgResponse, Content: turn.Content})
	case conversation.TurnConfirm:
		o.mu.Lock()
		o.pendingText = &textConfirm{question: turn.Question, options: turn.Options}
		o.mu.Unlock()
		o.send(ServerMessage{
			Type:        MsgConfirm,
			Content:     turn.Question,
			ConfirmData: &ConfirmData{Question: turn.Question, Options: turn.Options},
		})
	}
}
