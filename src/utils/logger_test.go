package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerDebugGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, false)
	l.Debug("hidden %d", 1)
	l.Info("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] shown 2")

	buf.Reset()
	NewWriterLogger(&buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "[DEBUG] visible")
}

func TestAuditWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, false)
	l.Audit(AuditEvent{Action: "login", Subject: "alice", Success: false, Reason: "unknown user"})

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "login", got["action"])
	assert.Equal(t, "alice", got["subject"])
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "unknown user", got["reason"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestFileLoggerAndRotate(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, false)
	require.NoError(t, err)
	defer l.Close()

	l.Audit(AuditEvent{Action: "logout", Subject: "bob", Success: true})

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"logout"`)

	stale := filepath.Join(dir, "audit.log.2000-01-01")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	old := time.Now().Add(-90 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, l.RotateLogs(30*24*time.Hour))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale archive removed")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var archived bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audit.log.") {
			archived = true
		}
	}
	assert.True(t, archived, "current audit log archived")

	info, err := os.Stat(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
