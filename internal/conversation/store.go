// Package conversation is the Duo Chat conversation store. It owns the thread
// list and per-thread message logs and reconciles three sources of change:
// optimistic local sends, GraphQL loads and realtime completions.
//
// All state lives behind one mutex. Network calls run outside it and their
// results are applied inside it, so each thread log is last-writer-wins by
// completion order.
package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/duochat/internal/realtime"
	"github.com/duochat/internal/state"
)

const (
	defaultGitLabURL   = "https://gitlab.com"
	presetQuestions    = 4
	threadTitleLength  = 50
	eventBuffer        = 32
	threadReloadWindow = 30 * time.Second
)

// Executor runs GraphQL documents. *graphql.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, document string, variables map[string]any, out any) error
}

// Transport is the realtime surface the store needs. *realtime.Transport
// satisfies it.
type Transport interface {
	Subscribe(query string, variables map[string]any, operationName string, handler realtime.Handler) (string, error)
	Unsubscribe(id string) error
	OnReady(fn func())
	IsReady() bool
}

// Session supplies the GitLab base URL. The store never owns the session.
type Session interface {
	BaseURL() string
}

// Options configures a Store. Zero values select defaults.
type Options struct {
	// ResponseTimeout bounds how long a send may wait for its final message
	// before loading is cleared. Zero waits forever.
	ResponseTimeout time.Duration
	Now             func() time.Time
}

// Store is the conversation store.
type Store struct {
	gql       Executor
	transport Transport
	session   Session
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu                   sync.Mutex
	threads              []Thread
	messages             map[string][]Message
	loading              bool
	loadingSeq           uint64
	loadingTimer         *time.Timer
	enabled              bool
	user                 *User
	presets              []ContextPreset
	commands             []SlashCommand
	customURL            string
	urlContext           URLContext
	lastErr              error
	clientSubscriptionID string
	reloadingThreads     bool

	// subMu serializes subscription setup, which talks to the transport.
	subMu       sync.Mutex
	activeSubID string

	state  *state.Store[Snapshot]
	events chan Event
}

// NewStore creates a store. When transport is non-nil the store resubscribes
// to completions every time the transport reports ready.
func NewStore(gql Executor, transport Transport, session Session, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		gql:                  gql,
		transport:            transport,
		session:              session,
		timeout:              opts.ResponseTimeout,
		now:                  now,
		logger:               log.With().Str("component", "conversation").Logger(),
		messages:             make(map[string][]Message),
		urlContext:           URLContext{Type: ContextHomepage},
		clientSubscriptionID: uuid.NewString(),
		events:               make(chan Event, eventBuffer),
	}
	s.state = state.New(s.snapshotLocked())

	if transport != nil {
		transport.OnReady(func() {
			if err := s.SetupSubscriptions(); err != nil {
				s.logger.Warn().Err(err).Msg("Cannot set up completion subscription")
			}
		})
	}
	return s
}

// Snapshot returns the current observable state.
func (s *Store) Snapshot() Snapshot {
	return s.state.Get()
}

// Subscribe streams state snapshots, latest wins.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	return s.state.Subscribe()
}

// Events delivers discrete notifications such as thread creation. Events
// are dropped when the buffer is full.
func (s *Store) Events() <-chan Event {
	return s.events
}

// ClientSubscriptionID is the id correlating sends with pushed completions.
func (s *Store) ClientSubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientSubscriptionID
}

// LoadInitialData loads the user, threads, context presets and slash
// commands and sets the default page context. Only the user and thread
// failures are reported.
func (s *Store) LoadInitialData(ctx context.Context) error {
	userErr := s.FetchCurrentUser(ctx)
	threadsErr := s.LoadThreads(ctx)
	s.InitializeDefaultContext()
	s.LoadContextPresets(ctx)
	s.LoadSlashCommands(ctx)

	if userErr != nil {
		return userErr
	}
	return threadsErr
}

// FetchCurrentUser resolves the current user and whether Duo Chat is
// available. Any failure disables chat.
func (s *Store) FetchCurrentUser(ctx context.Context) error {
	var resp currentUserResponse
	err := s.gql.Execute(ctx, currentUserQuery, nil, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	if err != nil {
		s.enabled = false
		s.lastErr = wrap(KindFetchUserFailed, err)
		s.logger.Error().Err(err).Msg("Failed to fetch current user")
		return s.lastErr
	}
	if resp.CurrentUser == nil {
		s.enabled = false
		s.user = nil
		s.lastErr = ErrUserNotFound
		return s.lastErr
	}

	u := resp.CurrentUser
	s.user = &User{
		ID:                       u.ID,
		Username:                 u.Username,
		Name:                     u.Name,
		DuoChatAvailable:         u.DuoChatAvailable,
		DuoChatAvailableFeatures: u.DuoChatAvailableFeatures,
	}
	s.enabled = u.DuoChatAvailable
	s.logger.Info().Str("username", u.Username).Bool("duo_chat", u.DuoChatAvailable).Msg("Current user")
	return nil
}

// LoadThreads replaces the thread list, keeping server order.
func (s *Store) LoadThreads(ctx context.Context) error {
	var resp threadsResponse
	err := s.gql.Execute(ctx, threadsQuery, nil, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = wrap(KindLoadThreadsFailed, err)
		s.publishLocked()
		s.logger.Error().Err(err).Msg("Failed to load threads")
		return s.lastErr
	}

	threads := make([]Thread, 0, len(resp.AiConversationThreads.Nodes))
	for _, n := range resp.AiConversationThreads.Nodes {
		title := "Untitled"
		if n.Title != nil {
			title = *n.Title
		}
		threads = append(threads, Thread{
			ID:               n.ID,
			Title:            title,
			ConversationType: n.ConversationType,
			CreatedAt:        n.CreatedAt,
			LastUpdatedAt:    n.LastUpdatedAt,
		})
	}
	s.threads = threads
	s.publishLocked()

	s.logger.Debug().Int("count", len(threads)).Msg("Loaded conversation threads")
	return nil
}

// LoadMessages replaces the log of threadID with the server's messages
// sorted ascending by timestamp.
func (s *Store) LoadMessages(ctx context.Context, threadID string) error {
	var resp messagesResponse
	err := s.gql.Execute(ctx, messagesQuery, map[string]any{"threadId": threadID}, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = wrap(KindLoadMessagesFailed, err)
		s.publishLocked()
		s.logger.Error().Err(err).Str("thread", threadID).Msg("Failed to load messages")
		return s.lastErr
	}

	now := s.now()
	msgs := make([]Message, 0, len(resp.AiMessages.Nodes))
	for _, n := range resp.AiMessages.Nodes {
		ts, ok := parseTimestamp(n.Timestamp)
		if !ok {
			ts = now
		}
		m := Message{
			ID:        n.ID,
			Content:   n.Content,
			Role:      parseRole(n.Role),
			Timestamp: ts,
			ThreadID:  threadID,
			ChunkID:   normalizeChunkID(n.ChunkID),
			Errors:    n.Errors,
		}
		if n.RequestID != nil {
			m.RequestID = *n.RequestID
		}
		msgs = append(msgs, m)
	}
	sortByTimestamp(msgs)

	s.messages[threadID] = msgs
	s.clearLoadingLocked()
	s.publishLocked()

	s.logger.Debug().Int("count", len(msgs)).Str("thread", threadID).Msg("Loaded messages")
	return nil
}

// DeleteThread deletes threadID on the server and, only on full success,
// removes the thread and its log together.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	var resp deleteThreadResponse
	err := s.gql.Execute(ctx, deleteThreadMutation, map[string]any{
		"input": map[string]any{"threadId": threadID},
	}, &resp)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	result := resp.DeleteConversationThread
	switch {
	case err != nil:
		s.lastErr = wrap(KindDeleteThreadFailed, err)
	case len(result.Errors) > 0:
		s.lastErr = &Error{Kind: KindDeleteThreadFailed, Detail: joinErrors(result.Errors)}
	case !result.Success:
		s.lastErr = &Error{Kind: KindDeleteThreadFailed, Detail: "Delete operation returned false"}
	default:
		s.threads = removeThread(s.threads, threadID)
		delete(s.messages, threadID)
		s.logger.Info().Str("thread", threadID).Msg("Deleted thread")
		return nil
	}

	s.logger.Error().Err(s.lastErr).Str("thread", threadID).Msg("Failed to delete thread")
	return s.lastErr
}

// LoadContextPresets loads suggested questions for the current page context.
// Failures leave an empty list.
func (s *Store) LoadContextPresets(ctx context.Context) {
	s.mu.Lock()
	pageURL := s.currentPageURLLocked()
	urlCtx := s.urlContext
	s.mu.Unlock()

	variables := map[string]any{
		"url":           pageURL,
		"questionCount": presetQuestions,
	}
	if urlCtx.ResourceID != "" {
		variables["resourceId"] = urlCtx.ResourceID
	}
	if urlCtx.ProjectPath != "" {
		if id := s.resolveProjectID(ctx, urlCtx.ProjectPath); id != "" {
			variables["projectId"] = id
		}
	}

	var resp contextPresetsResponse
	err := s.gql.Execute(ctx, contextPresetsQuery, variables, &resp)

	var presets []ContextPreset
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load context presets")
	} else if resp.AiChatContextPresets != nil {
		for _, q := range resp.AiChatContextPresets.Questions {
			presets = append(presets, ContextPreset{Prompt: q, Category: "context"})
		}
	}

	s.mu.Lock()
	s.presets = presets
	s.publishLocked()
	s.mu.Unlock()
}

// resolveProjectID turns namespace/project into the project's global id.
func (s *Store) resolveProjectID(ctx context.Context, fullPath string) string {
	var resp projectIDResponse
	if err := s.gql.Execute(ctx, projectIDQuery, map[string]any{"fullPath": fullPath}, &resp); err != nil {
		s.logger.Debug().Err(err).Str("project", fullPath).Msg("Failed to resolve project id")
		return ""
	}
	if resp.Project == nil {
		return ""
	}
	return resp.Project.ID
}

// LoadSlashCommands loads the slash commands available on the current page.
// Failures leave an empty list.
func (s *Store) LoadSlashCommands(ctx context.Context) {
	s.mu.Lock()
	pageURL := s.currentPageURLLocked()
	s.mu.Unlock()

	var resp slashCommandsResponse
	var commands []SlashCommand
	if err := s.gql.Execute(ctx, slashCommandsQuery, map[string]any{"url": pageURL}, &resp); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load slash commands")
	} else {
		commands = resp.AiSlashCommands
	}

	s.mu.Lock()
	s.commands = commands
	s.publishLocked()
	s.mu.Unlock()
}

// SetContextURL scopes the chat to a GitLab page.
func (s *Store) SetContextURL(pageURL string) URLContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customURL = pageURL
	s.urlContext = AnalyzeURL(s.baseURL(), pageURL)
	s.publishLocked()
	return s.urlContext
}

// InitializeDefaultContext points the context at the GitLab homepage unless
// a page was set explicitly.
func (s *Store) InitializeDefaultContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.baseURL()
	if s.customURL != "" || base == "" {
		return
	}
	s.urlContext = AnalyzeURL(base, base)
	s.publishLocked()
}

func (s *Store) baseURL() string {
	if s.session == nil {
		return ""
	}
	return s.session.BaseURL()
}

func (s *Store) currentPageURLLocked() string {
	if s.customURL != "" {
		return s.customURL
	}
	if base := s.baseURL(); base != "" {
		return base
	}
	return defaultGitLabURL
}

func (s *Store) clearLoadingLocked() {
	s.loading = false
	s.loadingSeq++
	if s.loadingTimer != nil {
		s.loadingTimer.Stop()
		s.loadingTimer = nil
	}
}

func (s *Store) emitLocked(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn().Str("event", e.Kind.String()).Msg("Event buffer full, dropping event")
	}
}

func (s *Store) publishLocked() {
	s.state.Set(s.snapshotLocked())
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Threads:        append([]Thread(nil), s.threads...),
		Messages:       make(map[string][]Message, len(s.messages)),
		Loading:        s.loading,
		DuoChatEnabled: s.enabled,
		ContextPresets: append([]ContextPreset(nil), s.presets...),
		SlashCommands:  append([]SlashCommand(nil), s.commands...),
		Context:        s.urlContext,
		Err:            s.lastErr,
	}
	for id, msgs := range s.messages {
		snap.Messages[id] = append([]Message(nil), msgs...)
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

func (s *Store) hasThreadLocked(id string) bool {
	for _, t := range s.threads {
		if t.ID == id {
			return true
		}
	}
	return false
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func removeThread(threads []Thread, id string) []Thread {
	out := threads[:0:0]
	for _, t := range threads {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
