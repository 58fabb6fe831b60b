package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// sessionTracker records the last activity time of every live MCP session.
type sessionTracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{lastSeen: map[string]time.Time{}}
}

func (t *sessionTracker) touchAt(id string, at time.Time) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.lastSeen[id] = at
	t.mu.Unlock()
}

func (t *sessionTracker) remove(id string) {
	t.mu.Lock()
	delete(t.lastSeen, id)
	t.mu.Unlock()
}

// idle returns the sessions whose last activity predates the cutoff.
func (t *sessionTracker) idle(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReapIdleSessions closes sessions whose idle time exceeds the configured
// limit. Returns when ctx is done.
func (s *Server) ReapIdleSessions(ctx context.Context) {
	timeout := s.cfg.SessionIdleTimeout
	if timeout <= 0 {
		return
	}
	interval := timeout / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle(ctx, time.Now())
		}
	}
}

// reapIdle closes every session idle past the limit as of now.
func (s *Server) reapIdle(ctx context.Context, now time.Time) int {
	ids := s.sessions.idle(now.Add(-s.cfg.SessionIdleTimeout))
	for _, id := range ids {
		log.Info("Closing idle MCP session", "session", id)
		s.mcp.UnregisterSession(ctx, id)
		s.sessions.remove(id)
	}
	return len(ids)
}
