// Package jobs holds the registry's background maintenance loops.
//
// session_sweeper.go implements the SessionSweeper job, which periodically
// deletes expired session rows. Expiry is already enforced lazily by the
// session guard on every request; the sweeper exists so sessions belonging
// to users who simply never came back do not accumulate forever.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/forc-lang/forc-registry/internal/db/repositories"
)

// SessionSweeper periodically removes expired sessions.
type SessionSweeper struct {
	sessions *repositories.SessionRepository
	interval time.Duration
	stopChan chan struct{}
}

// NewSessionSweeper creates a sweeper; a non-positive interval defaults to
// hourly.
func NewSessionSweeper(sessions *repositories.SessionRepository, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionSweeper{
		sessions: sessions,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled. It
// sweeps once immediately so a restart after downtime clears the backlog
// without waiting a full interval.
func (s *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("session sweeper started", "interval", s.interval)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("session sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("session sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit.
func (s *SessionSweeper) Stop() {
	close(s.stopChan)
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	removed, err := s.sessions.DeleteExpired(sweepCtx, time.Now())
	if err != nil {
		slog.Error("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("swept expired sessions", "removed", removed)
	}
}
