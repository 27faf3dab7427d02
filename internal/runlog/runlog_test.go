package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestOpenAppendsJSONLines(t *testing.T) {
	stateDir := t.TempDir()

	first, err := Open(stateDir, Startup)
	require.NoError(t, err)
	first.Event("start_requested", zap.Bool("force_init", true))
	first.Phase("readiness", 1500*time.Millisecond, nil)
	require.NoError(t, first.Close())

	second, err := Open(stateDir, Startup)
	require.NoError(t, err)
	second.Phase("tunnel", time.Second, errors.New("tunnel launch failed"))
	require.NoError(t, second.Close())

	assert.Equal(t, filepath.Join(stateDir, "logs", "startup.log"), first.Path())
	entries := readEntries(t, first.Path())
	require.Len(t, entries, 3)

	assert.Equal(t, "start_requested", entries[0]["event"])
	assert.Equal(t, true, entries[0]["force_init"])
	assert.Equal(t, first.RunID(), entries[0]["run_id"])
	assert.Equal(t, "startup", entries[0]["kind"])

	assert.Equal(t, "phase_done", entries[1]["event"])
	assert.Equal(t, "readiness", entries[1]["phase"])

	assert.Equal(t, "phase_failed", entries[2]["event"])
	assert.Equal(t, "tunnel launch failed", entries[2]["error"])
	assert.Equal(t, second.RunID(), entries[2]["run_id"])
	assert.NotEqual(t, first.RunID(), second.RunID())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Event("ignored")
	assert.Empty(t, l.Path())
	assert.NotEmpty(t, l.RunID())
	assert.NoError(t, l.Close())
}
