package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("balancer", &buf, "warn")
	l.Debugf("hidden %d", 1)
	l.Debugw("hidden", map[string]any{"k": 1})
	l.Infof("hidden")
	l.Warnf("cap exceeded by %d Wh", 120)
	l.Errorf("stop failed")

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "balancer", got[0]["component"])
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "cap exceeded by 120 Wh", got[0]["message"])
	assert.Equal(t, "error", got[1]["level"])
}

func TestLoggerStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("balancer", &buf, "debug")
	l.Debugw("tick", map[string]any{"rule": "hold", "available_w": 1200.5})
	z, ok := l.(*ZerologLogger)
	require.True(t, ok)
	z.With("charger", "easee").Infof("amps set")

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "hold", got[0]["rule"])
	assert.InDelta(t, 1200.5, got[0]["available_w"], 1e-9)
	assert.Equal(t, "easee", got[1]["charger"])
}

func TestLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("x", &buf, "bogus")
	l.Debugf("hidden")
	l.Infof("shown")
	assert.Len(t, lines(t, &buf), 1)
}
