package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/duochat/internal/config"
	"github.com/duochat/internal/credstore"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (secrets masked)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which settings a sign-in needs are present.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := map[string]string{
		"gitlab.url":        cfg.GitLab.URL,
		"gitlab.client_id":  cfg.GitLab.ClientID,
		"auth.redirect_uri": cfg.Auth.RedirectURI,
	}
	for key, val := range required {
		if val == "" {
			result.Missing = append(result.Missing, key)
			continue
		}
		if key == "gitlab.client_id" {
			val = maskSecret(val)
		}
		result.Present[key] = val
	}
	sort.Strings(result.Missing)

	result.Present["auth.credentials_dir"] = cfg.Auth.CredentialsDir
	if _, err := credstore.NewFileStore(cfg.Auth.CredentialsDir); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("credential store unusable: %v", err))
	}

	if cfg.Chat.ResponseTimeout > 0 {
		result.Present["chat.response_timeout"] = cfg.Chat.ResponseTimeout.String()
	}
	if cfg.Capture.Enabled {
		result.Warnings = append(result.Warnings, "payload capture is enabled; captured files contain message content")
	}
	if strings.HasPrefix(cfg.GitLab.URL, "http://") {
		result.Warnings = append(result.Warnings, "gitlab.url is not https; tokens travel in clear text")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
