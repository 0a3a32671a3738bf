package session

import (
	"context"
	"sync/atomic"
	"time"

	"browser-automation/internal/entity"
	"browser-automation/internal/ports"

	"golang.org/x/sync/semaphore"
)

// Session is one live browser, context and page triple. Page-touching work
// must hold the session through Acquire; waiters are served in arrival order.
type Session struct {
	info     entity.SessionInfo
	instance ports.BrowserInstance
	turn     *semaphore.Weighted
	lastUsed atomic.Int64
}

func newSession(info entity.SessionInfo, instance ports.BrowserInstance) *Session {
	s := &Session{
		info:     info,
		instance: instance,
		turn:     semaphore.NewWeighted(1),
	}
	s.lastUsed.Store(info.CreatedAt.UnixNano())

	return s
}

func (s *Session) ID() string {
	return s.info.ID
}

func (s *Session) Info() entity.SessionInfo {
	info := s.info
	info.LastUsedAt = s.LastUsedAt()

	return info
}

func (s *Session) Page() ports.Page {
	return s.instance.Page()
}

// Acquire waits for the session's turn.
func (s *Session) Acquire(ctx context.Context) error {
	if err := s.turn.Acquire(ctx, 1); err != nil {
		return err
	}

	s.Touch()

	return nil
}

func (s *Session) Release() {
	s.Touch()
	s.turn.Release(1)
}

func (s *Session) Touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) LastUsedAt() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// tryIdle takes the session's turn only when nobody holds or waits for it.
func (s *Session) tryIdle() bool {
	return s.turn.TryAcquire(1)
}
