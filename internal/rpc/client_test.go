// ABOUTME: Tests for the correlated RPC client: resolution, timeout, disconnect, and stray frames.
// ABOUTME: Uses an in-memory sender that exposes dispatched requests on a channel.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workbridge/internal/dedupe"
	"github.com/2389/workbridge/internal/protocol"
)

type fakeSender struct {
	connected atomic.Bool
	sendErr   error
	frames    chan protocol.ToolRequest
}

func newFakeSender() *fakeSender {
	s := &fakeSender{frames: make(chan protocol.ToolRequest, 16)}
	s.connected.Store(true)
	return s
}

func (s *fakeSender) Connected() bool { return s.connected.Load() }

func (s *fakeSender) Send(_ context.Context, frame []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	var req protocol.ToolRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return err
	}
	s.frames <- req
	return nil
}

func setupClient(t *testing.T, timeout time.Duration) (*Client, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	settled := dedupe.New(time.Minute, 100, 0)
	t.Cleanup(settled.Close)
	client := NewClient(Config{
		Sender:  sender,
		Logger:  slog.Default(),
		Timeout: timeout,
		Settled: settled,
	})
	return client, sender
}

func respond(t *testing.T, client *Client, frame protocol.ToolResult) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	client.HandleFrame(data)
}

type callResult struct {
	result json.RawMessage
	err    error
}

func callAsync(client *Client, ctx context.Context, tool string, input map[string]string) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		res, err := client.Call(ctx, tool, input)
		ch <- callResult{res, err}
	}()
	return ch
}

func TestCallResolvesWithResult(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	done := callAsync(client, context.Background(), protocol.ToolReadFile, map[string]string{"path": "a.txt"})

	req := <-sender.frames
	assert.Equal(t, protocol.ToolReadFile, req.ToolName)
	assert.Equal(t, "a.txt", req.Input["path"])
	assert.NotEmpty(t, req.ID)

	frame, err := protocol.Success(req.ID, map[string]string{"content": "hi"})
	require.NoError(t, err)
	respond(t, client, frame)

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"content":"hi"}`, string(out.result))
	assert.Equal(t, 0, client.PendingCount())
}

func TestCallRejectsWithDecodedTaxonomy(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	done := callAsync(client, context.Background(), protocol.ToolReadFile, map[string]string{"path": "../x"})
	req := <-sender.frames
	respond(t, client, protocol.Failure(req.ID, protocol.Errorf(protocol.KindPolicy, protocol.CodePathEscape, "path escapes root")))

	out := <-done
	require.Error(t, out.err)
	assert.True(t, errors.Is(out.err, protocol.ErrPathEscape))
	assert.Equal(t, "path escapes root", out.err.Error())
}

func TestCallAcceptsLegacyFrameTypes(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	done := callAsync(client, context.Background(), protocol.ToolGitStatus, nil)
	req := <-sender.frames
	respond(t, client, protocol.ToolResult{ID: req.ID, Type: protocol.TypeToolError, Error: "Bridge tool error"})

	out := <-done
	assert.Equal(t, protocol.KindExecution, protocol.KindOf(out.err))
}

func TestCallFailsFastWhenDisconnected(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)
	sender.connected.Store(false)

	_, err := client.Call(context.Background(), protocol.ToolGitStatus, nil)
	assert.True(t, errors.Is(err, protocol.ErrUnavailable))
	assert.Empty(t, sender.frames)
	assert.Equal(t, 0, client.PendingCount())
}

func TestCallSendFailureIsUnavailable(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)
	sender.sendErr = errors.New("write: broken pipe")

	_, err := client.Call(context.Background(), protocol.ToolGitStatus, nil)
	assert.Equal(t, protocol.KindUnavailable, protocol.KindOf(err))
	assert.Equal(t, 0, client.PendingCount())
}

func TestCallTimesOut(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	start := time.Now()
	_, err := client.CallWithTimeout(context.Background(), protocol.ToolRunCommand, nil, 50*time.Millisecond)
	<-sender.frames

	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, client.PendingCount())
}

func TestCallContextCancelRemovesEntry(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := callAsync(client, ctx, protocol.ToolRunCommand, nil)
	req := <-sender.frames
	cancel()

	out := <-done
	require.Error(t, out.err)
	assert.Equal(t, 0, client.PendingCount())

	// The late response is dropped without effect.
	frame, _ := protocol.Success(req.ID, "late")
	respond(t, client, frame)
	assert.Equal(t, 0, client.PendingCount())
}

func TestUnknownIDDoesNotDisturbPendingCalls(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	done := callAsync(client, context.Background(), protocol.ToolReadFile, map[string]string{"path": "a"})
	req := <-sender.frames

	stray, _ := protocol.Success("not-a-real-id", "stray")
	respond(t, client, stray)
	client.HandleFrame([]byte("{not json"))
	client.HandleFrame([]byte(`{"type":"result"}`))

	assert.Equal(t, 1, client.PendingCount())
	select {
	case <-done:
		t.Fatal("pending call settled by unrelated frame")
	case <-time.After(20 * time.Millisecond):
	}

	frame, _ := protocol.Success(req.ID, "ok")
	respond(t, client, frame)
	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `"ok"`, string(out.result))
}

func TestDuplicateResponseSettlesOnce(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	done := callAsync(client, context.Background(), protocol.ToolReadFile, nil)
	req := <-sender.frames

	first, _ := protocol.Success(req.ID, "first")
	respond(t, client, first)
	respond(t, client, protocol.Failure(req.ID, errors.New("second")))

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `"first"`, string(out.result))
}

func TestFailAllRejectsEveryPendingCall(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	const n = 5
	results := make([]<-chan callResult, n)
	for i := range results {
		results[i] = callAsync(client, context.Background(), protocol.ToolGitDiff, nil)
	}
	for range n {
		<-sender.frames
	}
	require.Equal(t, n, client.PendingCount())

	failed := client.FailAll(protocol.Errorf(protocol.KindUnavailable, protocol.CodeClosed, "executor disconnected"))
	assert.Equal(t, n, failed)

	for _, ch := range results {
		out := <-ch
		assert.True(t, errors.Is(out.err, protocol.ErrChannelClosed))
	}
	assert.Equal(t, 0, client.PendingCount())

	// After reconnecting, new calls succeed.
	done := callAsync(client, context.Background(), protocol.ToolGitDiff, nil)
	req := <-sender.frames
	frame, _ := protocol.Success(req.ID, "fresh")
	respond(t, client, frame)
	out := <-done
	require.NoError(t, out.err)
}

func TestExactlyOneSettlementUnderRace(t *testing.T) {
	client, sender := setupClient(t, 5*time.Second)

	for i := 0; i < 50; i++ {
		done := make(chan callResult, 1)
		go func() {
			res, err := client.CallWithTimeout(context.Background(), protocol.ToolReadFile, nil, 5*time.Millisecond)
			done <- callResult{res, err}
		}()
		req := <-sender.frames

		// Response, timeout, and disconnect race; exactly one wins.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			frame, _ := protocol.Success(req.ID, "ok")
			data, _ := json.Marshal(frame)
			client.HandleFrame(data)
		}()
		go func() {
			defer wg.Done()
			client.FailAll(protocol.ErrChannelClosed)
		}()
		wg.Wait()

		out := <-done
		if out.err == nil {
			assert.JSONEq(t, `"ok"`, string(out.result))
		} else {
			assert.Contains(t, []protocol.Kind{protocol.KindTimeout, protocol.KindUnavailable}, protocol.KindOf(out.err))
		}
		select {
		case <-done:
			t.Fatal("call settled twice")
		default:
		}
		assert.Equal(t, 0, client.PendingCount())
	}
}
