package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func TestSetupWritesToFile(t *testing.T) {
	restoreGlobals(t)
	path := filepath.Join(t.TempDir(), "logs", "duochat.log")

	l, err := Setup("debug", path, false)
	require.NoError(t, err)
	log.Debug().Str("thread", "t1").Msg("hello file")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello file"`)
	assert.Contains(t, string(data), `"thread":"t1"`)
}

func TestSetupLevel(t *testing.T) {
	restoreGlobals(t)

	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
		" error ": zerolog.ErrorLevel,
	}
	for in, want := range tests {
		l, err := Setup(in, "", true)
		require.NoError(t, err)
		assert.Equal(t, want, zerolog.GlobalLevel(), "level %q", in)
		assert.NoError(t, l.Close())
	}
}
