package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_CreatesFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewLogger_EmptyDirUsesStderr(t *testing.T) {
	logger, err := NewLogger("", LevelInfo)
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}

func TestLogger_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelDebug)

	logger.WithPhase("supervisor").WithUser(42).WithRun("run-1").Info("worker started", "pid", 99)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "worker started", e["msg"])
	assert.Equal(t, "supervisor", e["phase"])
	assert.Equal(t, float64(42), e["user_id"])
	assert.Equal(t, "run-1", e["run_id"])
	assert.Equal(t, float64(99), e["pid"])
}

func TestLogger_ChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, LevelDebug).WithPhase("login")
	_ = parent.WithUser(1)

	parent.Info("parent entry")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	_, hasUser := entries[0]["user_id"]
	assert.False(t, hasUser)
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "w", entries[0]["msg"])
	assert.Equal(t, "e", entries[1]["msg"])
}

func TestLogger_WithIgnoresNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo).With(7, "x", "key", "value")
	logger.Info("m")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "value", entries[0]["key"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("Warn"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Len(t, ValidLevels(), 4)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("discarded")
	assert.NoError(t, logger.Close())
}
