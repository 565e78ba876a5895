// Package preferences persists the UI colour scheme and accent colour.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"helixar/internal/models"
	"helixar/internal/storage"
)

var (
	ErrInvalidTheme  = errors.New("theme must be dark or light")
	ErrInvalidAccent = errors.New("accent must be a non-empty colour")
)

type Preferences struct {
	Theme  models.Theme `json:"theme" yaml:"theme"`
	Accent string       `json:"accent" yaml:"accent"`
}

// Update carries the fields to change; nil fields are left alone.
type Update struct {
	Theme  *models.Theme `json:"theme,omitempty"`
	Accent *string       `json:"accent,omitempty"`
}

type Service struct {
	kv       storage.KV
	defaults Preferences
}

func NewService(kv storage.KV, defaults Preferences) *Service {
	if defaults.Theme == "" {
		defaults.Theme = models.ThemeDark
	}
	return &Service{kv: kv, defaults: defaults}
}

// Get returns stored values, using the defaults for keys never written.
func (s *Service) Get(ctx context.Context) (Preferences, error) {
	prefs := s.defaults
	theme, ok, err := s.kv.Get(ctx, storage.KeyTheme)
	if err != nil {
		return Preferences{}, fmt.Errorf("read theme: %w", err)
	}
	if ok && validTheme(models.Theme(theme)) {
		prefs.Theme = models.Theme(theme)
	}
	accent, ok, err := s.kv.Get(ctx, storage.KeyAccent)
	if err != nil {
		return Preferences{}, fmt.Errorf("read accent: %w", err)
	}
	if ok && accent != "" {
		prefs.Accent = accent
	}
	return prefs, nil
}

// Apply validates and stores u, returning the resulting preferences.
func (s *Service) Apply(ctx context.Context, u Update) (Preferences, error) {
	if u.Theme != nil && !validTheme(*u.Theme) {
		return Preferences{}, ErrInvalidTheme
	}
	if u.Accent != nil && strings.TrimSpace(*u.Accent) == "" {
		return Preferences{}, ErrInvalidAccent
	}
	if u.Theme != nil {
		if err := s.kv.Set(ctx, storage.KeyTheme, string(*u.Theme)); err != nil {
			return Preferences{}, fmt.Errorf("write theme: %w", err)
		}
	}
	if u.Accent != nil {
		if err := s.kv.Set(ctx, storage.KeyAccent, strings.TrimSpace(*u.Accent)); err != nil {
			return Preferences{}, fmt.Errorf("write accent: %w", err)
		}
	}
	return s.Get(ctx)
}

func validTheme(t models.Theme) bool {
	return t == models.ThemeDark || t == models.ThemeLight
}
