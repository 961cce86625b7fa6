package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesServiceAndAction(t *testing.T) {
	var buf bytes.Buffer
	log := New("checkout", Options{Level: "debug", Output: &buf})

	log.Warn("route_fallback", errors.New("provider down"), map[string]any{"task_id": 7})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "checkout", entry["service"])
	assert.Equal(t, "route_fallback", entry["action"])
	assert.Equal(t, "provider down", entry["error"])
	assert.Equal(t, float64(7), entry["task_id"])
	assert.Equal(t, "warning", entry["level"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("notify", Options{Level: "warn", Output: &buf})

	log.Info("ignored", nil)
	assert.Zero(t, buf.Len())

	log.Error("kept", errors.New("boom"), nil)
	assert.NotZero(t, buf.Len())
}
