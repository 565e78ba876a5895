package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"helixar/internal/metrics"
	"helixar/internal/models"
)

var errNoCompleter = errors.New("no completion client configured")

// Turn is a completion request bound to the session that asked for it.
type Turn struct {
	SessionID string           `json:"sessionId"`
	Prompt    string           `json:"prompt"`
	Model     models.ModelType `json:"model"`
}

// SendMessage appends text to the current session and waits for the reply. Blank text
// or a missing current session is a no-op. Completion failures are not returned.
func (s *Store) SendMessage(ctx context.Context, text string) error {
	turn, err := s.PrepareSend(ctx, text)
	if err != nil || turn == nil {
		return err
	}
	s.Complete(ctx, turn)
	return nil
}

// Regenerate drops messageID and everything after it, then asks again with the nearest
// preceding user prompt.
func (s *Store) Regenerate(ctx context.Context, messageID string) error {
	turn, err := s.PrepareRegenerate(ctx, messageID)
	if err != nil || turn == nil {
		return err
	}
	s.Complete(ctx, turn)
	return nil
}

// PrepareSend records the user message and marks the session as awaiting a reply.
// A nil turn with a nil error means there was nothing to do.
func (s *Store) PrepareSend(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		return nil, nil
	}
	if s.states[s.current] == stateAwaiting {
		return nil, ErrSessionBusy
	}

	now := s.now().UnixMilli()
	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: now,
	}

	var next []*models.ChatSession
	promoting := s.isDraftLocked(s.current)
	if promoting {
		promoted := *s.draft
		promoted.Title = deriveTitle(text)
		promoted.Messages = []models.Message{msg}
		promoted.UpdatedAt = now
		next = append([]*models.ChatSession{&promoted}, s.sessions...)
	} else {
		idx := s.indexLocked(s.current)
		if idx < 0 {
			return nil, nil
		}
		updated := *s.sessions[idx]
		if len(updated.Messages) == 0 {
			updated.Title = deriveTitle(text)
		}
		updated.Messages = append(updated.Messages[:len(updated.Messages):len(updated.Messages)], msg)
		updated.UpdatedAt = now
		next = replaceAt(s.sessions, idx, &updated)
	}

	// nothing changes in memory unless the new list was saved
	if err := s.writeLocked(ctx, next); err != nil {
		return nil, err
	}
	s.sessions = next
	if promoting {
		s.draft = nil
	}
	delete(s.lastErr, s.current)
	s.states[s.current] = stateAwaiting
	return &Turn{SessionID: s.current, Prompt: text, Model: s.model}, nil
}

// PrepareRegenerate drops messageID and everything after it from the current session and
// marks the session as awaiting. The prompt is the nearest user message at or before
// messageID, so regenerating a user message resends its own text.
func (s *Store) PrepareRegenerate(ctx context.Context, messageID string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" || s.isDraftLocked(s.current) {
		return nil, nil
	}
	if s.states[s.current] == stateAwaiting {
		return nil, ErrSessionBusy
	}
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return nil, nil
	}
	se := s.sessions[idx]

	target := -1
	for i, m := range se.Messages {
		if m.ID == messageID {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, nil
	}
	promptAt := -1
	for i := target; i >= 0; i-- {
		if se.Messages[i].Role == models.RoleUser {
			promptAt = i
			break
		}
	}
	if promptAt < 0 {
		return nil, nil
	}

	prompt := se.Messages[promptAt].Content
	truncated := *se
	truncated.Messages = se.Messages[:target:target]
	next := replaceAt(s.sessions, idx, &truncated)
	if err := s.writeLocked(ctx, next); err != nil {
		return nil, err
	}
	s.sessions = next
	delete(s.lastErr, se.ID)

	s.states[se.ID] = stateAwaiting
	return &Turn{SessionID: se.ID, Prompt: prompt, Model: s.model}, nil
}

// Complete asks the completer for turn's reply and appends it to the target session.
// Provider errors are logged and kept as the session's last error. A reply for a session
// deleted in the meantime is dropped.
func (s *Store) Complete(ctx context.Context, turn *Turn) {
	if turn == nil {
		return
	}
	var (
		reply string
		err   = errNoCompleter
	)
	if s.completer != nil {
		reply, err = s.completer.Complete(ctx, turn.Model, turn.Prompt, s.system)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, turn.SessionID)

	logger := log.WithFields(log.Fields{"session": turn.SessionID, "model": turn.Model})
	idx := s.indexLocked(turn.SessionID)
	if err != nil {
		logger.WithError(err).Error("completion failed")
		metrics.CountCompletion(metrics.OutcomeFailure)
		if idx >= 0 {
			s.lastErr[turn.SessionID] = err.Error()
		}
		return
	}
	if idx < 0 {
		logger.Info("session no longer exists, dropping completion")
		metrics.CountCompletion(metrics.OutcomeDropped)
		return
	}

	se := s.sessions[idx]
	se.Messages = append(se.Messages, models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: s.now().UnixMilli(),
	})
	delete(s.lastErr, turn.SessionID)
	metrics.CountCompletion(metrics.OutcomeSuccess)
	if err := s.persistLocked(ctx); err != nil {
		logger.WithError(err).Error("persist completion")
	}
}

// Abandon returns a prepared turn's session to idle without completing it.
func (s *Store) Abandon(turn *Turn, cause error) {
	if turn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, turn.SessionID)
	if cause != nil && s.indexLocked(turn.SessionID) >= 0 {
		s.lastErr[turn.SessionID] = cause.Error()
	}
	log.WithField("session", turn.SessionID).WithError(cause).Warn("turn abandoned")
}
