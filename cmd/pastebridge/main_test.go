package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/pastebridge/pkg/busy"
	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/logger"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/readers"
	"github.com/memtensor/pastebridge/pkg/storage"
	"github.com/memtensor/pastebridge/pkg/telemetry"
	"github.com/memtensor/pastebridge/pkg/uploader"
)

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestApp(t *testing.T) *app {
	t.Helper()

	cfg := config.NewAppConfig()
	cfg.Storage.Dir = t.TempDir()
	lg := logger.NewTestLogger()

	store, err := storage.NewLocalStore(cfg.Storage, lg)
	require.NoError(t, err)

	return &app{
		cfg:      cfg,
		logger:   lg,
		metrics:  metrics.NewTestMetrics(),
		store:    store,
		uploader: uploader.NewDirectUploader(store, ""),
		guard:    busy.NewLocalGuard(),
		reporter: telemetry.NoopReporter{},
	}
}

func writePayload(t *testing.T, payload readers.WirePayload) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestReplayNativeItems(t *testing.T) {
	a := newTestApp(t)
	path := writePayload(t, readers.WirePayload{
		HTML: `<img src="file:///C:/Temp/clip.png">`,
		Items: []readers.WireItem{
			{Kind: "file", Type: "image/png", Name: "clip.png", Data: pngBase64(t)},
		},
	})

	var out bytes.Buffer
	require.NoError(t, a.replay(context.Background(), path, 2, &out))

	text := out.String()
	assert.Contains(t, text, "(1/1)")
	assert.Contains(t, text, "run 1: branch=native handled=true uploaded=1 failed=0")
	assert.Contains(t, text, "run 2: branch=native")
	assert.Contains(t, text, "2/2 runs passed")

	entries, err := os.ReadDir(a.store.Dir())
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestReplayPlaceholderFails(t *testing.T) {
	a := newTestApp(t)
	path := writePayload(t, readers.WirePayload{Text: "그림입니다. 원본 그림의 이름: a.png"})

	var out bytes.Buffer
	require.NoError(t, a.replay(context.Background(), path, 1, &out))

	assert.Contains(t, out.String(), "branch=passthrough")
	assert.Contains(t, out.String(), "verdict=fail")
	assert.True(t, strings.HasSuffix(out.String(), "0/1 runs passed\n"))
}

func TestReplayErrors(t *testing.T) {
	a := newTestApp(t)

	err := a.replay(context.Background(), filepath.Join(t.TempDir(), "missing.json"), 1, &bytes.Buffer{})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	err = a.replay(context.Background(), bad, 1, &bytes.Buffer{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.replay(ctx, writePayload(t, readers.WirePayload{Text: "hi"}), 1, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
