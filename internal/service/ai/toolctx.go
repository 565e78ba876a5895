package ai

import (
	"context"
	"sync"
	"time"
)

type toolSessionKey struct{}

// WithToolSession tags ctx with the chat session a completion runs for. Tool calls made
// under that ctx share the session's rate limit.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionKey{}, sessionID)
}

// ToolSessionFromContext returns the session set by WithToolSession.
func ToolSessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolSessionKey{}).(string)
	return id, ok && id != ""
}

func limitKey(ctx context.Context) string {
	if id, ok := ToolSessionFromContext(ctx); ok {
		return "session:" + id
	}
	return "anonymous"
}

// slidingLimiter allows at most limit calls per key in any window-long span.
type slidingLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

func newSlidingLimiter(limit int, window time.Duration) *slidingLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &slidingLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records a call for key unless the key is already at its limit.
func (l *slidingLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	past := l.calls[key]
	recent := past[:0]
	for _, at := range past {
		if now.Sub(at) < l.window {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.limit {
		l.calls[key] = recent
		return false
	}
	l.calls[key] = append(recent, now)
	return true
}
