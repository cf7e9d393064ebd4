package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/duochat/internal/auth"
	"github.com/duochat/internal/retry"
)

const envPrefix = "DUOCHAT_"

// DefaultPaths are searched in order when no config file is given.
var DefaultPaths = []string{"./duochat.toml", "$HOME/.duochat.toml"}

// Config represents the application configuration
type Config struct {
	GitLab struct {
		URL      string `koanf:"url"`
		ClientID string `koanf:"client_id"`
	} `koanf:"gitlab"`

	Auth struct {
		RedirectURI    string   `koanf:"redirect_uri"`
		Scopes         []string `koanf:"scopes"`
		CredentialsDir string   `koanf:"credentials_dir"`
	} `koanf:"auth"`

	Realtime struct {
		ReconnectDelay    time.Duration `koanf:"reconnect_delay"`
		ReconnectAttempts int           `koanf:"reconnect_attempts"`
	} `koanf:"realtime"`

	GraphQL struct {
		Timeout           time.Duration `koanf:"timeout"`
		RequestsPerSecond float64       `koanf:"requests_per_second"`
		Burst             int           `koanf:"burst"`
	} `koanf:"graphql"`

	Chat struct {
		ResponseTimeout time.Duration `koanf:"response_timeout"`
	} `koanf:"chat"`

	Log struct {
		Level  string `koanf:"level"`
		File   string `koanf:"file"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`

	Capture struct {
		Enabled bool   `koanf:"enabled"`
		Dir     string `koanf:"dir"`
	} `koanf:"capture"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"gitlab.url":                  "https://gitlab.com",
		"auth.redirect_uri":           auth.DefaultRedirectURI,
		"auth.scopes":                 auth.DefaultScopes,
		"auth.credentials_dir":        "$HOME/.duochat",
		"realtime.reconnect_delay":    "5s",
		"realtime.reconnect_attempts": 1,
		"graphql.timeout":             "30s",
		"graphql.requests_per_second": 0,
		"graphql.burst":               1,
		"chat.response_timeout":       "0s",
		"log.level":                   "info",
		"log.pretty":                  true,
		"capture.enabled":             false,
		"capture.dir":                 "captures",
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// DUOCHAT_GITLAB_CLIENT_ID -> gitlab.client_id
	k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	config.Auth.CredentialsDir = os.ExpandEnv(config.Auth.CredentialsDir)

	return &config, nil
}

// ReconnectPolicy turns the realtime section into the transport's retry
// policy.
func (c *Config) ReconnectPolicy() retry.RetryConfig {
	policy := retry.ReconnectConfig()
	if c.Realtime.ReconnectDelay > 0 {
		policy.InitialDelay = c.Realtime.ReconnectDelay
		policy.BaseDelay = c.Realtime.ReconnectDelay
	}
	if c.Realtime.ReconnectAttempts > 1 {
		policy.MaxRetries = c.Realtime.ReconnectAttempts - 1
	}
	return policy
}

// LogFilePath resolves the configured log file under logs/ unless it is
// already absolute.
func (c *Config) LogFilePath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join("logs", c.Log.File)
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# duochat configuration

[gitlab]
url = "https://gitlab.com"
client_id = "your-oauth-application-id"

[auth]
redirect_uri = "com.gitlabduochat://oauth/callback"
credentials_dir = "$HOME/.duochat"

[realtime]
reconnect_delay = "5s"
reconnect_attempts = 1

[graphql]
timeout = "30s"
requests_per_second = 0

[chat]
response_timeout = "0s"

[log]
level = "info"
pretty = true

[capture]
enabled = false
dir = "captures"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitLab.URL == "" {
		return fmt.Errorf("gitlab url is required")
	}
	u, err := url.Parse(config.GitLab.URL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("gitlab url %q must be an absolute http(s) URL", config.GitLab.URL)
	}

	if config.GitLab.ClientID == "" {
		return fmt.Errorf("gitlab client_id is required")
	}

	if config.Auth.RedirectURI == "" {
		return fmt.Errorf("auth redirect_uri is required")
	}
	if config.Auth.CredentialsDir == "" {
		return fmt.Errorf("auth credentials_dir is required")
	}

	if config.Realtime.ReconnectAttempts < 0 {
		return fmt.Errorf("realtime reconnect_attempts cannot be negative")
	}
	if config.GraphQL.RequestsPerSecond < 0 {
		return fmt.Errorf("graphql requests_per_second cannot be negative")
	}
	if config.Chat.ResponseTimeout < 0 {
		return fmt.Errorf("chat response_timeout cannot be negative")
	}

	return nil
}
