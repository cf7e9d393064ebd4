package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartMonitor runs CheckExpiry every monitor interval until ctx is done.
// It is independent of sign-in state: ticks while signed out are no-ops.
func (s *Session) StartMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckExpiry(ctx)
			}
		}
	}()
}

// CheckExpiry is one monitor tick:
//   - under RefreshWindow remaining: raise the expiring-soon flag
//   - under ProactiveRefreshWindow remaining: refresh (failure signs out)
//   - expired: sign out
func (s *Session) CheckExpiry(ctx context.Context) {
	s.mu.Lock()
	if s.tokens == nil {
		s.mu.Unlock()
		return
	}

	remaining := s.tokens.Expiry.Sub(s.now())
	if remaining <= 0 {
		log.Warn().Msg("Access token expired, signing out")
		s.signOutLocked(nil)
		s.mu.Unlock()
		return
	}

	soon := remaining < RefreshWindow
	if soon != s.expiringSoon {
		s.expiringSoon = soon
		s.publishLocked()
	}
	s.mu.Unlock()

	attempted, err := s.refreshWhen(ctx, func(remaining time.Duration) bool {
		return remaining > 0 && remaining < ProactiveRefreshWindow
	})
	if attempted && err == nil {
		log.Debug().Msg("Proactive token refresh completed")
	}
}
