package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/credstore"
)

func TestCheckExpiryRaisesWarning(t *testing.T) {
	clock := newFakeClock()
	store := credstore.NewMemoryStore()
	seedSignedIn(t, store, "https://gitlab.example.com", clock.Now().Add(10*time.Minute), "r")
	session := newTestSession(store, clock, nil)

	session.CheckExpiry(context.Background())
	require.False(t, session.Snapshot().ExpiringSoon)

	clock.Advance(6 * time.Minute)
	session.CheckExpiry(context.Background())
	require.True(t, session.Snapshot().ExpiringSoon)
	require.Equal(t, SignedIn, session.Status())
}

func TestCheckExpiryProactiveRefresh(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, body map[string]string) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "fresh", "expires_in": 7200})
	})
	clock := newFakeClock()
	store := credstore.NewMemoryStore()
	seedSignedIn(t, store, server.URL, clock.Now().Add(30*time.Second), "r")
	session := newTestSession(store, clock, nil)

	session.CheckExpiry(context.Background())

	require.Equal(t, int32(1), server.calls.Load())
	require.Equal(t, "fresh", session.AccessToken())
	require.False(t, session.Snapshot().ExpiringSoon)
}

func TestCheckExpiryRefreshFailureSignsOut(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, body map[string]string) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	})
	clock := newFakeClock()
	store := credstore.NewMemoryStore()
	seedSignedIn(t, store, server.URL, clock.Now().Add(45*time.Second), "r")
	session := newTestSession(store, clock, nil)

	session.CheckExpiry(context.Background())

	require.Equal(t, SignedOut, session.Status())
	require.ErrorIs(t, session.Snapshot().LastError, ErrTokenRefreshFailed)
}

func TestCheckExpirySignsOutWhenExpired(t *testing.T) {
	clock := newFakeClock()
	store := credstore.NewMemoryStore()
	seedSignedIn(t, store, "https://gitlab.example.com", clock.Now().Add(time.Minute), "")
	session := newTestSession(store, clock, nil)
	require.Equal(t, SignedIn, session.Status())

	clock.Advance(2 * time.Minute)
	session.CheckExpiry(context.Background())

	require.Equal(t, SignedOut, session.Status())
	require.Equal(t, 0, store.Len())
}

func TestStartMonitorTicks(t *testing.T) {
	clock := newFakeClock()
	store := credstore.NewMemoryStore()
	seedSignedIn(t, store, "https://gitlab.example.com", clock.Now().Add(time.Minute), "")
	session := NewSession(store, Options{Now: clock.Now, MonitorInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.StartMonitor(ctx)

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		return session.Status() == SignedOut
	}, 2*time.Second, 10*time.Millisecond)
}
