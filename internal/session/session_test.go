// ABOUTME: Tests for observer sessions over a real websocket served by httptest.
// ABOUTME: Covers auth, command turns, inline and remote confirmations, and malformed input.

package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workbridge/internal/auth"
	"github.com/2389/workbridge/internal/confirm"
	"github.com/2389/workbridge/internal/conversation"
)

const testPasscode = "open-sesame"

type fakeDispatcher struct {
	mu    sync.Mutex
	tools []string
}

func (d *fakeDispatcher) Call(_ context.Context, toolName string, _ map[string]string) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools = append(d.tools, toolName)
	return json.RawMessage(`{"branch":"main","clean":true}`), nil
}

func (d *fakeDispatcher) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tools...)
}

type testEnv struct {
	url        string
	hub        *Hub
	gate       *confirm.Gate
	dispatcher *fakeDispatcher
	service    *conversation.Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	passcode, err := auth.NewPasscode(testPasscode, "")
	require.NoError(t, err)

	env := &testEnv{dispatcher: &fakeDispatcher{}, hub: NewHub(nil)}
	env.gate = confirm.NewGate(confirm.Config{
		Dispatcher:      env.dispatcher,
		Broadcaster:     env.hub,
		InlineTimeout:   5 * time.Second,
		ExternalTimeout: 5 * time.Second,
	})
	t.Cleanup(env.gate.Close)
	env.service = conversation.New(nil, nil, nil)

	h := NewHandler(Config{
		Passcode: passcode,
		Tokens:   auth.NewJWTVerifier([]byte("session-signing-secret")),
		Hub:      env.hub,
		Gate:     env.gate,
		Service:  env.service,
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	env.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return env
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg ClientMessage) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, msg))
}

func (c *client) read() ServerMessage {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg ServerMessage
	require.NoError(c.t, wsjson.Read(ctx, c.conn, &msg))
	return msg
}

// readUntil reads until a message of type typ arrives and returns everything read.
func (c *client) readUntil(typ string) (ServerMessage, []ServerMessage) {
	c.t.Helper()
	var seen []ServerMessage
	for {
		msg := c.read()
		seen = append(seen, msg)
		if msg.Type == typ {
			return msg, seen
		}
	}
}

func (c *client) login() string {
	c.t.Helper()
	c.send(ClientMessage{Type: MsgAuth, Passcode: testPasscode})
	msg := c.read()
	require.Equal(c.t, MsgAuthOK, msg.Type)
	return msg.Token
}

func TestAuthRequired(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)

	c.send(ClientMessage{Type: MsgText, Content: "status"})
	msg := c.read()
	assert.Equal(t, MsgAuthFail, msg.Type)
	assert.Contains(t, msg.Content, "Not authenticated")

	c.send(ClientMessage{Type: MsgAuth, Passcode: "wrong"})
	msg = c.read()
	assert.Equal(t, MsgAuthFail, msg.Type)
	assert.Equal(t, "Invalid passcode", msg.Content)
	assert.Equal(t, 0, env.hub.Count())
	assert.Empty(t, env.dispatcher.calls())
}

func TestAuthIssuesReusableToken(t *testing.T) {
	env := setup(t)
	first := dial(t, env.url)
	token := first.login()
	require.NotEmpty(t, token)
	assert.Equal(t, 1, env.hub.Count())

	second := dial(t, env.url)
	second.send(ClientMessage{Type: MsgAuth, Token: token})
	msg := second.read()
	assert.Equal(t, MsgAuthOK, msg.Type)
	assert.Equal(t, 2, env.hub.Count())

	third := dial(t, env.url)
	third.send(ClientMessage{Type: MsgAuth, Token: "not-a-jwt"})
	assert.Equal(t, MsgAuthFail, third.read().Type)
}

func TestTextRunsCommandTurn(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)
	c.login()

	c.send(ClientMessage{Type: MsgText, Content: "status"})
	assert.Equal(t, "Thinking...", c.read().Content)

	msg, _ := c.readUntil(MsgResponse)
	assert.Contains(t, msg.Content, `"branch": "main"`)
	assert.Equal(t, []string{"git_status"}, env.dispatcher.calls())

	entries := env.service.Transcript().Entries()
	require.NotEmpty(t, entries)
	var users []string
	for _, e := range entries {
		if e.Role == conversation.RoleUser {
			users = append(users, e.Content)
		}
	}
	assert.Equal(t, []string{"status"}, users)
}

func TestInlineConfirmationApproved(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)
	c.login()

	c.send(ClientMessage{Type: MsgText, Content: "apply p1"})
	msg, _ := c.readUntil(MsgConfirm)
	require.NotNil(t, msg.ConfirmData)
	assert.NotEmpty(t, msg.ConfirmData.ID)
	assert.Equal(t, "patch_apply", msg.ConfirmData.ToolName)
	assert.Equal(t, "Apply patch p1?", msg.ConfirmData.Question)
	assert.Empty(t, env.dispatcher.calls())

	c.send(ClientMessage{Type: MsgConfirm, Choice: 1})
	_, seen := c.readUntil(MsgResponse)
	var statuses []string
	for _, m := range seen {
		if m.Type == MsgStatus {
			statuses = append(statuses, m.Content)
		}
	}
	if len(statuses) == 0 {
		// The status can trail the response.
		statuses = append(statuses, c.read().Content)
	}
	assert.Contains(t, statuses, "Confirmed. Executing...")
	assert.Equal(t, []string{"patch_apply"}, env.dispatcher.calls())
}

func TestInlineConfirmationDeclined(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)
	c.login()

	c.send(ClientMessage{Type: MsgText, Content: "apply p1"})
	msg, _ := c.readUntil(MsgConfirm)

	c.send(ClientMessage{Type: MsgConfirm, ID: msg.ConfirmData.ID, Choice: 2})
	resp, _ := c.readUntil(MsgResponse)
	assert.Equal(t, "Cancelled patch_apply (No, cancel).", resp.Content)
	assert.Empty(t, env.dispatcher.calls())

	// The id is settled; a second answer is rejected without dispatch.
	c.send(ClientMessage{Type: MsgConfirm, ID: msg.ConfirmData.ID, Choice: 1})
	errMsg, _ := c.readUntil(MsgError)
	assert.Equal(t, "Confirmation expired or not found.", errMsg.Content)
	assert.Empty(t, env.dispatcher.calls())
}

func TestInlineConfirmationBelongsToItsSession(t *testing.T) {
	env := setup(t)
	a := dial(t, env.url)
	a.login()
	b := dial(t, env.url)
	b.login()

	a.send(ClientMessage{Type: MsgText, Content: "apply p1"})
	msg, _ := a.readUntil(MsgConfirm)
	id := msg.ConfirmData.ID

	b.send(ClientMessage{Type: MsgConfirm, ID: id, Choice: 1})
	errMsg := b.read()
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "Confirmation expired or not found.", errMsg.Content)

	b.send(ClientMessage{Type: MsgConfirm, ExternalID: id, Choice: 1})
	assert.Equal(t, "Confirmation expired or not found.", b.read().Content)
	assert.Len(t, env.gate.Pending(), 1)

	a.send(ClientMessage{Type: MsgConfirm, ID: id})
	invalid := a.read()
	assert.Equal(t, MsgError, invalid.Type)
	assert.Equal(t, "Invalid choice", invalid.Content)

	a.send(ClientMessage{Type: MsgConfirm, ID: id, Choice: 2})
	resp, _ := a.readUntil(MsgResponse)
	assert.Equal(t, "Cancelled patch_apply (No, cancel).", resp.Content)
	assert.Empty(t, env.dispatcher.calls())
}

func TestRemoteConfirmation(t *testing.T) {
	env := setup(t)
	a := dial(t, env.url)
	a.login()
	b := dial(t, env.url)
	b.login()

	type result struct {
		d   confirm.Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := env.gate.RequestExternal(context.Background(), "Deploy now?", []string{"Yes", "No"})
		done <- result{d, err}
	}()

	msgA := a.read()
	msgB := b.read()
	require.Equal(t, MsgConfirm, msgA.Type)
	require.Equal(t, MsgConfirm, msgB.Type)
	require.NotNil(t, msgA.ConfirmData)
	id := msgA.ConfirmData.ExternalID
	assert.Equal(t, id, msgB.ConfirmData.ExternalID)
	assert.Equal(t, "remote", msgA.ConfirmData.Source)

	a.send(ClientMessage{Type: MsgConfirm, ExternalID: id, Choice: 2})
	assert.Equal(t, "Response sent.", a.read().Content)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.d.Choice)
	assert.Equal(t, "No", r.d.Option)

	b.send(ClientMessage{Type: MsgConfirm, ExternalID: id, Choice: 1})
	msg := b.read()
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "Confirmation expired or not found.", msg.Content)
}

func TestConfirmWithNothingPending(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)
	c.login()

	c.send(ClientMessage{Type: MsgConfirm, Choice: 1})
	msg := c.read()
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "No confirmation pending.", msg.Content)
}

func TestMalformedInput(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	msg := c.read()
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "Invalid JSON", msg.Content)

	// The connection survives bad input.
	c.login()
	c.send(ClientMessage{Type: "bogus"})
	assert.Equal(t, "Unknown message type", c.read().Content)

	c.send(ClientMessage{Type: MsgText})
	assert.Equal(t, MsgError, c.read().Type)
}

func TestDisconnectRemovesObserver(t *testing.T) {
	env := setup(t)
	c := dial(t, env.url)
	c.login()
	require.Equal(t, 1, env.hub.Count())

	c.conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
