package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestZeroLogger(t *testing.T) {
	t.Run("Level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWriterLogger("info", &buf)

		l.Debug("hidden")
		l.Info("shown", map[string]interface{}{"tasks": 3})

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "shown", entries[0]["message"])
		assert.Equal(t, "info", entries[0]["level"])
		assert.Equal(t, float64(3), entries[0]["tasks"])
	})

	t.Run("Error carries cause", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWriterLogger("debug", &buf)

		l.Error("upload failed", errors.New("502 bad gateway"), map[string]interface{}{"index": 1})

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "error", entries[0]["level"])
		assert.Equal(t, "502 bad gateway", entries[0]["error"])
		assert.Equal(t, float64(1), entries[0]["index"])
	})

	t.Run("WithFields is persistent", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWriterLogger("debug", &buf).WithFields(map[string]interface{}{"component": "scheduler"})

		l.Warn("first")
		l.Debug("second")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, "scheduler", e["component"])
		}
	})

	t.Run("Fatal uses exit hook", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewWriterLogger("debug", &buf)
		code := -1
		l.exit = func(c int) { code = c }

		l.Fatal("boom", nil)

		assert.Equal(t, 1, code)
		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "fatal", entries[0]["level"])
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("File output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pastebridge.log")
		l, closer, err := NewLogger("info", path)
		require.NoError(t, err)

		l.Info("written")
		require.NoError(t, closer.Close())

		zl, ok := l.(*ZeroLogger)
		require.True(t, ok)
		assert.Equal(t, path, zl.File)
	})

	t.Run("Unwritable file", func(t *testing.T) {
		_, _, err := NewLogger("info", filepath.Join(t.TempDir(), "missing", "x.log"))
		assert.Error(t, err)
	})

	t.Run("Test logger", func(t *testing.T) {
		l := NewTestLogger()
		assert.NotPanics(t, func() {
			l.Debug("quiet")
			l.Error("quiet", errors.New("x"))
		})
	})
}
