package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Readiness(t *testing.T) {
	r := NewRecorder()
	r.Readiness("db", "ready", 3, 4*time.Second)
	r.Readiness("app", "timed out", 30, time.Minute)

	expected := `
		# HELP stackctl_readiness_attempts Probe attempts used before the service became ready or timed out
		# TYPE stackctl_readiness_attempts gauge
		stackctl_readiness_attempts{outcome="ready",service="db"} 3
		stackctl_readiness_attempts{outcome="timed out",service="app"} 30
	`
	err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "stackctl_readiness_attempts")
	assert.NoError(t, err)
}

func TestRecorder_PhaseStatus(t *testing.T) {
	r := NewRecorder()
	r.Phase("readiness", 2*time.Second, nil)
	r.Phase("tunnel", 500*time.Millisecond, errors.New("exited"))

	expected := `
		# HELP stackctl_phase_duration_seconds Duration of the last run of each orchestration phase
		# TYPE stackctl_phase_duration_seconds gauge
		stackctl_phase_duration_seconds{phase="readiness",status="ok"} 2
		stackctl_phase_duration_seconds{phase="tunnel",status="error"} 0.5
	`
	err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "stackctl_phase_duration_seconds")
	assert.NoError(t, err)
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Setup("skipped")
	r.Finished("start", nil)

	path := filepath.Join(t.TempDir(), "nested", "metrics.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stackctl_setup_outcome{outcome="skipped"} 1`)
	assert.Contains(t, string(data), `stackctl_last_run_timestamp_seconds{command="start",status="ok"}`)

	assert.NoError(t, r.WriteTextfile(""))
}
