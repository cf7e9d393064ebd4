// Package capture records GraphQL exchanges and realtime frames as fixture
// files. It is off unless enabled through configuration or Enable.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	sessionID  = time.Now().Format("20060102-150405")
	captureSeq uint64
)

// envCaptureDir overrides the configured output directory.
const envCaptureDir = "DUOCHAT_CAPTURE_DIR"

const defaultCaptureDir = "captures"

var (
	captureEnabled atomic.Bool

	dirMu        sync.RWMutex
	configuredTo string
)

// Configure sets whether capture is active and where files go. An empty dir
// keeps the default.
func Configure(enabled bool, dir string) {
	dirMu.Lock()
	configuredTo = dir
	dirMu.Unlock()
	captureEnabled.Store(enabled)
}

// Enabled reports whether capture is currently active.
func Enabled() bool {
	return captureEnabled.Load()
}

// Enable globally turns on capture for the running process.
func Enable() {
	captureEnabled.Store(true)
}

// Disable globally turns off capture for the running process.
func Disable() {
	captureEnabled.Store(false)
}

// Dir returns the directory the current process writes into.
func Dir() string {
	return filepath.Join(captureDir(), sessionID)
}

func captureDir() string {
	if dir := os.Getenv(envCaptureDir); dir != "" {
		return dir
	}
	dirMu.RLock()
	defer dirMu.RUnlock()
	if configuredTo != "" {
		return configuredTo
	}
	return defaultCaptureDir
}

// writeFile stores data as <dir>/<session>/<category>-<seq>.<ext>. Failures are
// logged and otherwise ignored; capture never breaks the caller.
func writeFile(category, ext string, data []byte) {
	seq := atomic.AddUint64(&captureSeq, 1)
	sessionDir := Dir()
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		log.Warn().Err(err).Str("dir", sessionDir).Msg("capture: failed to create directory")
		return
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return
	}

	log.Debug().Str("path", path).Msg("capture: wrote fixture")
}

// WriteJSON marshals the payload to indented JSON and stores it.
func WriteJSON(category string, payload any) {
	if !Enabled() {
		return
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("category", category).Msg("capture: failed to marshal payload")
		return
	}

	writeFile(category, "json", data)
}

// WriteBlob stores arbitrary bytes using the provided extension.
func WriteBlob(category, ext string, data []byte) {
	if !Enabled() {
		return
	}
	writeFile(category, ext, data)
}
