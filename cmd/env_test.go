package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/config"
	"github.com/duochat/internal/conversation"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "ab****yz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
DUOCHAT_GITLAB_URL="https://gitlab.example.com"
export DUOCHAT_LOG_LEVEL='debug'
not a pair
`), 0600))
	t.Setenv("DUOCHAT_GITLAB_URL", "")
	t.Setenv("DUOCHAT_LOG_LEVEL", "")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "https://gitlab.example.com", os.Getenv("DUOCHAT_GITLAB_URL"))
	assert.Equal(t, "debug", os.Getenv("DUOCHAT_LOG_LEVEL"))
}

func TestCheckRequiredConfig(t *testing.T) {
	var cfg config.Config
	cfg.GitLab.URL = "http://gitlab.internal"
	cfg.Auth.RedirectURI = "com.gitlabduochat://oauth/callback"
	cfg.Auth.CredentialsDir = t.TempDir()

	result := CheckRequiredConfig(&cfg)
	assert.Equal(t, []string{"gitlab.client_id"}, result.Missing)
	assert.Equal(t, "http://gitlab.internal", result.Present["gitlab.url"])
	assert.Len(t, result.Warnings, 1)

	cfg.GitLab.ClientID = "0123456789abcdef"
	result = CheckRequiredConfig(&cfg)
	assert.Empty(t, result.Missing)
	assert.Equal(t, "01****ef", result.Present["gitlab.client_id"])
}

func TestAnswerForMatchesRequest(t *testing.T) {
	res := conversation.SendResult{ThreadID: "t1", RequestID: "r2"}
	snap := conversation.Snapshot{Messages: map[string][]conversation.Message{
		"t1": {
			{Role: conversation.RoleUser, RequestID: "r2", Content: "question"},
			{Role: conversation.RoleAssistant, RequestID: "r1", Content: "old"},
			{Role: conversation.RoleAssistant, RequestID: "r2", Content: "new"},
		},
	}}

	m, ok := answerFor(snap, res)
	require.True(t, ok)
	assert.Equal(t, "new", m.Content)

	_, ok = answerFor(snap, conversation.SendResult{ThreadID: "t1", RequestID: "r3"})
	assert.False(t, ok)
}
