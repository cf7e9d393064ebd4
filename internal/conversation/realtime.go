package conversation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var errNoTransport = errors.New("no realtime transport configured")

// SetupSubscriptions (re)subscribes to aiCompletionResponse for the current
// user and client subscription id, dropping the previous subscription. While
// the transport is not ready it does nothing; the ready callback calls it
// again.
func (s *Store) SetupSubscriptions() error {
	if s.transport == nil {
		return errNoTransport
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	user := s.user
	clientSubID := s.clientSubscriptionID
	s.mu.Unlock()

	if user == nil {
		return ErrUserNotFound
	}
	if !s.transport.IsReady() {
		s.logger.Debug().Msg("Transport not ready, deferring completion subscription")
		return nil
	}

	if s.activeSubID != "" {
		if err := s.transport.Unsubscribe(s.activeSubID); err != nil {
			s.logger.Warn().Err(err).Str("id", s.activeSubID).Msg("Failed to unsubscribe")
		}
		s.activeSubID = ""
	}

	id, err := s.transport.Subscribe(completionSubscription, map[string]any{
		"userId":               user.ID,
		"aiAction":             "CHAT",
		"clientSubscriptionId": clientSubID,
	}, completionOperation, s.HandleRealtimeEvent)
	if err != nil {
		return err
	}
	s.activeSubID = id
	s.logger.Info().Str("id", id).Msg("Completion subscription set up")
	return nil
}

// StartNewConversation rotates the client subscription id so completions of
// earlier requests no longer reach this session, then resubscribes.
func (s *Store) StartNewConversation() error {
	s.mu.Lock()
	s.clientSubscriptionID = uuid.NewString()
	id := s.clientSubscriptionID
	s.mu.Unlock()

	s.logger.Info().Str("client_subscription_id", id).Msg("Starting new conversation")
	if s.transport == nil {
		return nil
	}
	return s.SetupSubscriptions()
}

// HandleRealtimeEvent applies one pushed ActionCable frame. Frames without a
// completion, null completions and invalid completions are ignored.
func (s *Store) HandleRealtimeEvent(frame []byte) {
	c, result := extractCompletion(frame)
	switch result {
	case extractNone:
		return
	case extractNull:
		s.logger.Debug().Msg("Null AI response, subscription active")
		return
	case extractInvalid:
		s.logger.Warn().Msg("Skipping invalid or empty AI response")
		return
	}

	s.mu.Lock()
	s.applyCompletionLocked(c)
	unknown := !s.hasThreadLocked(c.ThreadID)
	reload := unknown && !s.reloadingThreads
	if reload {
		s.reloadingThreads = true
	}
	s.publishLocked()
	s.mu.Unlock()

	if reload {
		go s.reloadThreads()
	}
}

func (s *Store) reloadThreads() {
	ctx, cancel := context.WithTimeout(context.Background(), threadReloadWindow)
	defer cancel()
	if err := s.LoadThreads(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Thread reload after completion failed")
	}
	s.mu.Lock()
	s.reloadingThreads = false
	s.mu.Unlock()
}

func (s *Store) applyCompletionLocked(c completion) {
	ts, ok := parseTimestamp(c.Timestamp)
	if !ok {
		ts = s.now()
	}
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := Message{
		ID:        id,
		Content:   c.Content,
		Role:      c.Role,
		Timestamp: ts,
		ThreadID:  c.ThreadID,
		RequestID: c.RequestID,
		ChunkID:   c.ChunkID,
		Errors:    c.Errors,
	}

	msgs := s.messages[c.ThreadID]
	idx := -1
	// Only a streaming assistant message is updated in place.
	if c.RequestID != "" && c.Role == RoleAssistant {
		for i, m := range msgs {
			if m.RequestID == c.RequestID && m.Role == RoleAssistant {
				idx = i
				break
			}
		}
	}

	if c.isChunk() {
		if idx >= 0 {
			msgs[idx].Content += c.Content
			msgs[idx].ChunkID = c.ChunkID
		} else {
			msgs = append(msgs, msg)
		}
		s.messages[c.ThreadID] = msgs
		return
	}

	if idx >= 0 {
		msgs[idx] = msg
	} else {
		msgs = append(msgs, msg)
	}
	s.messages[c.ThreadID] = msgs
	// Only the assistant's final message answers the pending request.
	if c.Role != RoleAssistant {
		return
	}
	s.clearLoadingLocked()
	s.emitLocked(Event{Kind: EventResponseCompleted, ThreadID: c.ThreadID, RequestID: c.RequestID})
}
