// ABOUTME: Service runs conversation turns and records them in the transcript.
// ABOUTME: The user message is recorded before the conversation sees it.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/workbridge/internal/confirm"
)

// Service is the conversation layer observer sessions talk to.
type Service struct {
	conv       Conversation
	transcript *Transcript
	logger     *slog.Logger
}

// New creates a Service. A nil conv uses Commands; a nil transcript gets a fresh one.
func New(conv Conversation, transcript *Transcript, logger *slog.Logger) *Service {
	if conv == nil {
		conv = Commands{}
	}
	if transcript == nil {
		transcript = NewTranscript()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conv:       conv,
		transcript: transcript,
		logger:     logger.With("component", "conversation"),
	}
}

// Transcript returns the service's transcript.
func (s *Service) Transcript() *Transcript {
	return s.transcript
}

// Send records text and runs one conversation turn. Assistant text that
// contains a CONFIRM block is followed by a confirm turn.
func (s *Service) Send(ctx context.Context, text string, tools Tools, emit func(Turn)) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message is empty")
	}

	// Record first, then act.
	s.transcript.Add(RoleUser, text)
	s.logger.Debug("user message recorded", "length", len(text))

	err := s.conv.Process(ctx, text, tools, func(turn Turn) {
		if turn.Kind == TurnText {
			s.transcript.Add(RoleAssistant, turn.Content)
		}
		emit(turn)
		if turn.Kind != TurnText {
			return
		}
		if q, opts, ok := confirm.ParseConfirmBlock(turn.Content); ok {
			emit(Turn{Kind: TurnConfirm, Content: turn.Content, Question: q, Options: opts})
		}
	})
	if err != nil {
		s.transcript.Add(RoleSystem, "conversation error: "+err.Error())
		return fmt.Errorf("conversation turn failed: %w", err)
	}
	return nil
}

// Note records a system event in the transcript.
func (s *Service) Note(content string) {
	s.transcript.Add(RoleSystem, content)
}
