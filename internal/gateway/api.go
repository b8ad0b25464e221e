// ABOUTME: HTTP API handlers for health, status, external confirmation, and session notes.
// ABOUTME: POST /api/confirm blocks until an observer answers or the confirmation times out.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/workbridge/internal/channel"
	"github.com/2389/workbridge/internal/conversation"
	"github.com/2389/workbridge/internal/protocol"
)

// maxConfirmBody bounds the POST /api/confirm request body.
const maxConfirmBody = 64 << 10

// ConfirmRequest is the JSON request body for POST /api/confirm.
type ConfirmRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ConfirmResponse is the JSON response for POST /api/confirm.
type ConfirmResponse struct {
	Choice int    `json:"choice"`
	Option string `json:"option"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Executor             channel.State `json:"executor"`
	Observers            int           `json:"observers"`
	PendingCalls         int           `json:"pendingCalls"`
	PendingConfirmations int           `json:"pendingConfirmations"`
	Uptime               string        `json:"uptime"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus reports the executor link and outstanding work.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, StatusResponse{
		Executor:             g.channel.State(),
		Observers:            g.hub.Count(),
		PendingCalls:         g.rpc.PendingCount(),
		PendingConfirmations: len(g.gate.Pending()),
		Uptime:               time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// handleConfirm asks every connected observer and returns the first answer.
func (g *Gateway) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfirmBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	dec, err := g.gate.RequestExternal(r.Context(), req.Question, req.Options)
	if err != nil {
		g.logger.Info("external confirmation failed", "error", err)
		g.sendJSONError(w, confirmStatus(err), err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, ConfirmResponse{Choice: dec.Choice, Option: dec.Option})
}

// confirmStatus maps a confirmation failure to an HTTP status code.
func confirmStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNoObservers):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// requireReader admits the shared secret or an observer session token.
func (g *Gateway) requireReader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.secret.Authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
			if _, err := g.tokens.Verify(token); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// handleNotes renders the session notes file as HTML.
func (g *Gateway) handleNotes(w http.ResponseWriter, r *http.Request) {
	body, err := conversation.RenderNotes(g.config.Session.NotesPath)
	if err != nil {
		g.logger.Error("rendering session notes", "error", err)
		http.Error(w, "failed to render notes", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
