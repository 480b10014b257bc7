package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GetLevel()
	Configure(&buf, "json")
	t.Cleanup(func() {
		SetLevel(prev)
		Configure(os.Stderr, "console")
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":        INFO,
		"info":    INFO,
		"DEBUG":   DEBUG,
		" warn ":  WARN,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInfoCF_WritesComponentAndFields(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(INFO)

	InfoCF("dispatch", "Delivered message", map[string]any{"channel_id": "100"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "100", line["channel_id"])
	assert.Equal(t, "Delivered message", line["message"])
}

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(WARN)

	DebugC("bus", "hidden")
	InfoC("bus", "hidden too")
	assert.Zero(t, buf.Len())

	WarnC("bus", "shown")
	assert.Contains(t, buf.String(), "shown")
}
