// Package session owns the chat session list, the unsaved draft and the per-session
// generation state. Every mutation goes through Store and the persisted list is written
// back in full after each change.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"helixar/internal/metrics"
	"helixar/internal/models"
	"helixar/internal/storage"
)

// DraftTitle is the title of a chat that has no messages yet.
const DraftTitle = "New chat"

// ErrSessionBusy is returned when a send or regenerate targets a session that is still
// waiting for its previous reply.
var ErrSessionBusy = errors.New("session is awaiting a response")

// Completer produces one assistant reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, model models.ModelType, prompt, systemInstruction string) (string, error)
}

type genState int

const (
	stateIdle genState = iota
	stateAwaiting
)

// Options configures a Store.
type Options struct {
	Completer         Completer
	SystemInstruction string
	Model             models.ModelType
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store owns the session list, the draft and which sessions are awaiting a reply.
// It is safe for concurrent use.
type Store struct {
	kv        storage.KV
	completer Completer
	system    string
	now       func() time.Time

	mu       sync.Mutex
	sessions []*models.ChatSession
	draft    *models.ChatSession
	current  string
	model    models.ModelType
	states   map[string]genState
	lastErr  map[string]string
}

// Open loads the persisted list from kv. A missing key is an empty list; undecodable
// data is returned as an error and the store is not usable.
func Open(ctx context.Context, kv storage.KV, opts Options) (*Store, error) {
	if kv == nil {
		return nil, errors.New("session storage required")
	}
	s := &Store{
		kv:        kv,
		completer: opts.Completer,
		system:    opts.SystemInstruction,
		now:       opts.Now,
		model:     opts.Model,
		sessions:  []*models.ChatSession{},
		states:    make(map[string]genState),
		lastErr:   make(map[string]string),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.model == "" {
		s.model = models.ModelFlash
	}

	raw, ok, err := kv.Get(ctx, storage.KeySessions)
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if ok && strings.TrimSpace(raw) != "" {
		var loaded []*models.ChatSession
		if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
		for _, se := range loaded {
			if se == nil {
				continue
			}
			if se.Messages == nil {
				se.Messages = []models.Message{}
			}
			s.sessions = append(s.sessions, se)
		}
	}
	metrics.SetPersistedSessions(len(s.sessions))

	if len(s.sessions) > 0 {
		s.current = s.sessions[0].ID
	} else {
		s.createDraftLocked()
	}
	log.WithField("sessions", len(s.sessions)).Debug("session store loaded")
	return s, nil
}

// CreateDraft starts a new unsaved chat unless the current view already is an empty draft.
func (s *Store) CreateDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDraftLocked()
}

func (s *Store) createDraftLocked() {
	if s.draft != nil && s.current == s.draft.ID && len(s.draft.Messages) == 0 {
		return
	}
	s.draft = &models.ChatSession{
		ID:        uuid.NewString(),
		Title:     DraftTitle,
		Messages:  []models.Message{},
		UpdatedAt: s.now().UnixMilli(),
	}
	s.current = s.draft.ID
}

// DeleteSession removes the draft or a persisted session. The workspace is never left
// without a current session: a fresh draft replaces the last one removed.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft != nil && s.draft.ID == id {
		s.draft = nil
		s.selectFirstLocked()
		return nil
	}

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	delete(s.lastErr, id)
	err := s.persistLocked(ctx)
	if s.current == id {
		s.selectFirstLocked()
	}
	return err
}

func (s *Store) selectFirstLocked() {
	if len(s.sessions) > 0 {
		s.current = s.sessions[0].ID
		return
	}
	s.current = ""
	s.createDraftLocked()
}

// RenameSession sets the title of the draft or a persisted session. Empty titles are kept as given.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft != nil && s.draft.ID == id {
		s.draft.Title = title
		return nil
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	s.sessions[idx].Title = title
	return s.persistLocked(ctx)
}

// SelectSession makes id current. Switching away from the draft discards it.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || id == s.current {
		return
	}
	if s.draft != nil && s.draft.ID == id {
		s.current = id
		return
	}
	if s.indexLocked(id) < 0 {
		return
	}
	if s.draft != nil && s.current == s.draft.ID && len(s.draft.Messages) == 0 {
		s.draft = nil
	}
	s.current = id
}

// SetModel selects the model used by later sends and regenerations.
func (s *Store) SetModel(model models.ModelType) {
	if model == "" {
		return
	}
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// ConvertToGroup marks the current persisted session as a group chat and returns its
// invite link. It does nothing for the draft.
func (s *Store) ConvertToGroup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" || s.isDraftLocked(s.current) {
		return "", nil
	}
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return "", nil
	}
	link, err := newGroupLink()
	if err != nil {
		return "", err
	}
	s.sessions[idx].IsGroup = true
	s.sessions[idx].GroupLink = link
	if err := s.persistLocked(ctx); err != nil {
		return "", err
	}
	return link, nil
}

// ShareLink returns the public link of a persisted session.
func (s *Store) ShareLink(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return "", false
	}
	return shareLink(id), true
}

func (s *Store) isDraftLocked(id string) bool {
	return s.draft != nil && s.draft.ID == id
}

func (s *Store) indexLocked(id string) int {
	for i, se := range s.sessions {
		if se.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked(ctx context.Context) error {
	return s.writeLocked(ctx, s.sessions)
}

// writeLocked saves list as the persisted session list without touching s.sessions.
func (s *Store) writeLocked(ctx context.Context, list []*models.ChatSession) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeySessions, string(data)); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	metrics.SetPersistedSessions(len(list))
	return nil
}

func replaceAt(list []*models.ChatSession, idx int, se *models.ChatSession) []*models.ChatSession {
	out := make([]*models.ChatSession, len(list))
	copy(out, list)
	out[idx] = se
	return out
}
