package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lowpansniff/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	l.WithField("frame_hex", "0200").WithError(errors.New("boom")).Info("frame dropped")
	l.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "frame dropped", entry["msg"])
	assert.Equal(t, "0200", entry["frame_hex"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "info", entry["level"])
	assert.False(t, l.IsDebugEnabled())
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	l.WithFields(map[string]interface{}{"kind": "truncated"}).Debugf("decode failed after %d bytes", 7)
	assert.Contains(t, buf.String(), "decode failed after 7 bytes")
	assert.Contains(t, buf.String(), "kind=truncated")
	assert.True(t, l.IsDebugEnabled())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "text"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "text", File: config.LogFileConfig{Enabled: true}}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sniff.log")
	l, err := New(config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   config.LogFileConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	}, &bytes.Buffer{})
	require.NoError(t, err)

	l.Info("capture started")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "capture started")
}

func TestSetLogger(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)
	SetLogger(l)
	GetLogger().Warn("swapped")
	assert.Contains(t, buf.String(), "swapped")
}
