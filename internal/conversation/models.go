package conversation

import (
	"strings"
	"time"
)

// Domain models for Duo Chat threads, messages and chat context.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// parseRole maps a wire role to a Role. Anything unrecognised is assistant.
func parseRole(s string) Role {
	switch r := Role(strings.ToLower(s)); r {
	case RoleUser, RoleSystem:
		return r
	default:
		return RoleAssistant
	}
}

const conversationTypeDuoChat = "DUO_CHAT"

type Thread struct {
	ID               string
	Title            string
	ConversationType string
	CreatedAt        string
	LastUpdatedAt    string
}

type Message struct {
	ID        string
	Content   string
	Role      Role
	Timestamp time.Time
	ThreadID  string
	RequestID string // empty when absent
	ChunkID   string // empty when absent or sentinel
	Errors    []string
}

// User is the GitLab account the chat acts for.
type User struct {
	ID                       string
	Username                 string
	Name                     string
	DuoChatAvailable         bool
	DuoChatAvailableFeatures []string
}

type ContextPreset struct {
	Prompt   string
	Category string
}

type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ContextType classifies the GitLab page the chat is scoped to.
type ContextType string

const (
	ContextHomepage     ContextType = "Homepage"
	ContextProject      ContextType = "Project"
	ContextIssue        ContextType = "Issue"
	ContextMergeRequest ContextType = "Merge Request"
	ContextPipeline     ContextType = "Pipeline"
	ContextRepository   ContextType = "Repository"
	ContextWiki         ContextType = "Wiki"
	ContextUnknown      ContextType = "Unknown"
)

// URLContext is the result of analysing a GitLab page URL.
type URLContext struct {
	URL         string
	Type        ContextType
	ProjectPath string // namespace/project
	ResourceID  string // gid://gitlab/<Type>/<n>
}

// EventKind enumerates discrete store notifications.
type EventKind int

const (
	// EventThreadCreated fires when a send created a server-side thread.
	EventThreadCreated EventKind = iota + 1
	// EventResponseCompleted fires when a final assistant message is applied.
	EventResponseCompleted
	// EventResponseTimedOut fires when a send got no final message in time.
	EventResponseTimedOut
)

func (k EventKind) String() string {
	switch k {
	case EventThreadCreated:
		return "thread_created"
	case EventResponseCompleted:
		return "response_completed"
	case EventResponseTimedOut:
		return "response_timed_out"
	}
	return "unknown"
}

type Event struct {
	Kind      EventKind
	ThreadID  string
	RequestID string
}

// Snapshot is an immutable copy of the store's observable state.
type Snapshot struct {
	Threads        []Thread
	Messages       map[string][]Message
	Loading        bool
	DuoChatEnabled bool
	User           *User
	ContextPresets []ContextPreset
	SlashCommands  []SlashCommand
	Context        URLContext
	Err            error
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
