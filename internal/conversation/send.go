package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tempThreadPrefix = "temp-"

// SendResult identifies the server-side request a send started.
type SendResult struct {
	ThreadID  string
	RequestID string
}

// SendMessage posts content to threadID, or to a new conversation when
// threadID is empty. The user message appears in the log immediately; the
// assistant answer arrives later through HandleRealtimeEvent.
func (s *Store) SendMessage(ctx context.Context, content, threadID string) (SendResult, error) {
	s.mu.Lock()
	if !s.enabled {
		s.lastErr = ErrFeatureDisabled
		s.publishLocked()
		s.mu.Unlock()
		return SendResult{}, ErrFeatureDisabled
	}
	if s.user == nil {
		s.lastErr = ErrUserNotFound
		s.publishLocked()
		s.mu.Unlock()
		return SendResult{}, ErrUserNotFound
	}

	target := threadID
	if target == "" {
		target = tempThreadPrefix + uuid.NewString()
	}
	s.messages[target] = append(s.messages[target], Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      RoleUser,
		Timestamp: s.now(),
		ThreadID:  target,
	})

	s.lastErr = nil
	s.startLoadingLocked()
	seq := s.loadingSeq
	userID := s.user.ID
	clientSubID := s.clientSubscriptionID
	s.publishLocked()
	s.mu.Unlock()

	input := map[string]any{
		"chat": map[string]any{
			"content":    content,
			"resourceId": userID,
		},
		"conversationType":     conversationTypeDuoChat,
		"clientSubscriptionId": clientSubID,
	}
	if threadID != "" {
		input["threadId"] = threadID
	}

	var resp aiActionResponse
	err := s.gql.Execute(ctx, aiActionMutation, map[string]any{"input": input}, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	if err == nil && len(resp.AiAction.Errors) > 0 {
		s.failSendLocked(seq, &Error{Kind: KindSendMessageFailed, Detail: joinErrors(resp.AiAction.Errors)})
		return SendResult{}, s.lastErr
	}
	if err != nil {
		s.failSendLocked(seq, wrap(KindSendMessageFailed, err))
		return SendResult{}, s.lastErr
	}

	actual := target
	if resp.AiAction.ThreadID != nil && *resp.AiAction.ThreadID != "" {
		actual = *resp.AiAction.ThreadID
	}

	if threadID == "" {
		s.adoptThreadLocked(target, actual, content)
		s.emitLocked(Event{Kind: EventThreadCreated, ThreadID: actual, RequestID: resp.AiAction.RequestID})
	}

	s.logger.Info().Str("thread", actual).Str("request", resp.AiAction.RequestID).Msg("Message sent, waiting for AI response")
	return SendResult{ThreadID: actual, RequestID: resp.AiAction.RequestID}, nil
}

// adoptThreadLocked moves the optimistic log from the temporary key to the
// server thread id and registers the thread at the head of the list.
func (s *Store) adoptThreadLocked(temp, actual, content string) {
	if temp != actual {
		moved := s.messages[temp]
		delete(s.messages, temp)
		for i := range moved {
			moved[i].ThreadID = actual
		}
		// Completions may already have landed under the real id.
		merged := append(moved, s.messages[actual]...)
		sortByTimestamp(merged)
		s.messages[actual] = merged
	}

	if s.hasThreadLocked(actual) {
		return
	}
	stamp := s.now().UTC().Format(time.RFC3339)
	s.threads = append([]Thread{{
		ID:               actual,
		Title:            truncateRunes(content, threadTitleLength),
		ConversationType: conversationTypeDuoChat,
		CreatedAt:        stamp,
		LastUpdatedAt:    stamp,
	}}, s.threads...)
}

func (s *Store) failSendLocked(seq uint64, err *Error) {
	s.lastErr = err
	if seq == s.loadingSeq {
		s.clearLoadingLocked()
	}
	s.logger.Error().Err(err).Msg("Failed to send message")
}

// startLoadingLocked raises the loading flag and, with a response timeout
// configured, arms a timer that clears it if no final message arrives.
func (s *Store) startLoadingLocked() {
	s.clearLoadingLocked()
	s.loading = true
	if s.timeout <= 0 {
		return
	}
	seq := s.loadingSeq
	s.loadingTimer = time.AfterFunc(s.timeout, func() {
		s.expireLoading(seq)
	})
}

func (s *Store) expireLoading(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.loadingSeq || !s.loading {
		return
	}
	s.loading = false
	s.loadingTimer = nil
	s.lastErr = ErrResponseTimeout
	s.emitLocked(Event{Kind: EventResponseTimedOut})
	s.publishLocked()
	s.logger.Warn().Dur("timeout", s.timeout).Msg("No AI response within timeout")
}

func joinErrors(errs []string) string {
	return strings.Join(errs, ", ")
}
