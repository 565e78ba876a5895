package session

import (
	"strings"
	"time"

	"helixar/internal/models"
)

// Snapshot is a copy of everything a presentation layer renders. Mutating it does not
// affect the store.
type Snapshot struct {
	Sessions         []*models.ChatSession `json:"sessions"`
	CurrentSessionID string                `json:"currentSessionId"`
	Draft            *models.ChatSession   `json:"draft,omitempty"`
	Generating       bool                  `json:"generating"`
	LastError        string                `json:"lastError,omitempty"`
	Model            models.ModelType      `json:"model"`
}

// Snapshot returns the current state for rendering.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sessions:         cloneAll(s.sessions),
		CurrentSessionID: s.current,
		Draft:            s.draft.Clone(),
		Generating:       s.states[s.current] == stateAwaiting,
		LastError:        s.lastErr[s.current],
		Model:            s.model,
	}
	return snap
}

// Session returns a copy of the draft or persisted session with the given id.
func (s *Store) Session(id string) (*models.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDraftLocked(id) {
		return s.draft.Clone(), true
	}
	if idx := s.indexLocked(id); idx >= 0 {
		return s.sessions[idx].Clone(), true
	}
	return nil, false
}

// Current returns a copy of the current session.
func (s *Store) Current() (*models.ChatSession, bool) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	return s.Session(id)
}

// Search returns persisted sessions whose title or any message contains query, ignoring case.
func (s *Store) Search(query string) []*models.ChatSession {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ChatSession
	for _, se := range s.sessions {
		if matches(se, q) {
			out = append(out, se.Clone())
		}
	}
	return out
}

func matches(se *models.ChatSession, q string) bool {
	if strings.Contains(strings.ToLower(se.Title), q) {
		return true
	}
	for _, m := range se.Messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			return true
		}
	}
	return false
}

// Bucket is one month of older chats.
type Bucket struct {
	Label    string                `json:"label"`
	Sessions []*models.ChatSession `json:"sessions"`
}

// Grouping is the sidebar layout: group chats first, then personal chats by recency.
type Grouping struct {
	Group     []*models.ChatSession `json:"group"`
	Today     []*models.ChatSession `json:"today"`
	Yesterday []*models.ChatSession `json:"yesterday"`
	Older     []Bucket              `json:"older"`
}

// Grouped sorts the persisted list into sidebar sections relative to now. List order is
// kept inside each section; month buckets appear in order of first use.
func (s *Store) Grouped(now time.Time) Grouping {
	s.mu.Lock()
	sessions := cloneAll(s.sessions)
	s.mu.Unlock()

	g := Grouping{
		Group:     []*models.ChatSession{},
		Today:     []*models.ChatSession{},
		Yesterday: []*models.ChatSession{},
		Older:     []Bucket{},
	}
	yesterday := now.AddDate(0, 0, -1)
	buckets := make(map[string]int)
	for _, se := range sessions {
		if se.IsGroup {
			g.Group = append(g.Group, se)
			continue
		}
		t := se.Updated().In(now.Location())
		switch {
		case sameDay(t, now):
			g.Today = append(g.Today, se)
		case sameDay(t, yesterday):
			g.Yesterday = append(g.Yesterday, se)
		default:
			label := t.Format("January")
			if t.Year() != now.Year() {
				label = t.Format("January 2006")
			}
			i, ok := buckets[label]
			if !ok {
				i = len(g.Older)
				buckets[label] = i
				g.Older = append(g.Older, Bucket{Label: label})
			}
			g.Older[i].Sessions = append(g.Older[i].Sessions, se)
		}
	}
	return g
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func cloneAll(in []*models.ChatSession) []*models.ChatSession {
	out := make([]*models.ChatSession, len(in))
	for i, se := range in {
		out[i] = se.Clone()
	}
	return out
}
