package models

import "time"

// ChatSession is a named, ordered conversation.
type ChatSession struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	UpdatedAt int64     `json:"updatedAt" yaml:"updated_at"`
	IsGroup   bool      `json:"isGroup,omitempty" yaml:"is_group,omitempty"`
	GroupLink string    `json:"groupLink,omitempty" yaml:"group_link,omitempty"`
}

// Updated converts UpdatedAt into a time.Time.
func (s *ChatSession) Updated() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}

// Clone deep-copies the session, including its messages.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.Clone()
	}
	return &c
}

// ModelType is the identifier sent to the completion provider.
type ModelType string

const (
	ModelFlash ModelType = "gemini-3-flash-preview"
	ModelPro   ModelType = "gemini-3-pro-preview"
)

// Theme is the persisted colour scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)
