package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAndRecent(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit", "audit.sqlite"))

	require.NoError(t, l.LogEvent("cli", "score_started", map[string]any{"period": "2025-01"}))
	require.NoError(t, l.LogEvent("cli", "score_finished", map[string]any{"people": 3}))
	require.NoError(t, l.LogEvent("api", "kpi_saved", map[string]string{"id": "sales"}))

	events, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "kpi_saved", events[0].Type)
	assert.Equal(t, "api", events[0].Actor)
	assert.Equal(t, "score_finished", events[1].Type)
	assert.False(t, events[0].Timestamp.IsZero())

	var payload map[string]int
	require.NoError(t, json.Unmarshal([]byte(events[1].PayloadJSON), &payload))
	assert.Equal(t, 3, payload["people"])
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.sqlite")
	t.Setenv(EnvDBPath, path)

	require.NoError(t, NewLogger("").LogEvent("cli", "init_started", nil))
	events, err := NewLogger(path).Recent(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "null", events[0].PayloadJSON)
}
