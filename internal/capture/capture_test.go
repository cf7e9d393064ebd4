package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteJSONDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	Configure(false, dir)

	WriteJSON("graphql", map[string]string{"a": "b"})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestWriteJSONAndBlob(t *testing.T) {
	dir := t.TempDir()
	Configure(true, dir)
	defer Disable()

	WriteJSON("graphql", map[string]string{"query": "{ currentUser { id } }"})
	WriteBlob("cable-in", "json", []byte(`{"type":"ping"}`))

	files, err := filepath.Glob(filepath.Join(Dir(), "*"))
	require.NoError(t, err)
	require.Len(t, files, 2)

	var sawBlob bool
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		if string(data) == `{"type":"ping"}` {
			sawBlob = true
		}
	}
	require.True(t, sawBlob)
}

func TestEnvOverridesConfiguredDir(t *testing.T) {
	envDir := t.TempDir()
	t.Setenv(envCaptureDir, envDir)
	Configure(true, t.TempDir())
	defer Disable()

	require.Equal(t, filepath.Join(envDir, sessionID), Dir())
}
