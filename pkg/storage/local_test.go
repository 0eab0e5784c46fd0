package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/logger"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func newTestStore(t *testing.T) (*LocalStore, *config.StorageConfig) {
	t.Helper()
	cfg := config.NewStorageConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "uploads")
	s, err := NewLocalStore(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	return s, cfg
}

func fileForURL(cfg *config.StorageConfig, url string) string {
	rel := strings.TrimPrefix(url, cfg.BaseURL+cfg.PublicPrefix)
	return filepath.Join(cfg.Dir, filepath.FromSlash(rel))
}

func TestSaveFile(t *testing.T) {
	s, cfg := newTestStore(t)
	data := pngBytes(t)

	url, err := s.SaveFile(context.Background(), data, "clip.png", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/public/uploads/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	stored, err := os.ReadFile(fileForURL(cfg, url))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestSaveFileSniffsExtension(t *testing.T) {
	s, _ := newTestStore(t)
	url, err := s.SaveFile(context.Background(), jpegBytes(t), "blob", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func TestSaveFileIgnoresClientExtension(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"x.html", "x.svg", "x.PNG.js"} {
		url, err := s.SaveFile(ctx, pngBytes(t), name, "")
		require.NoError(t, err, name)
		assert.True(t, strings.HasSuffix(url, ".png"), "%s stored as %s", name, url)
	}

	uri := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(jpegBytes(t))
	url, err := s.SaveDataURI(ctx, uri, "x.svg", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpg"), url)
}

func TestSaveFileFolderAndBaseURL(t *testing.T) {
	s, cfg := newTestStore(t)
	cfg.BaseURL = "https://cdn.example.com"

	url, err := s.SaveFile(context.Background(), pngBytes(t), "a.png", "notes/2024")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/public/uploads/notes/2024/"))
	_, err = os.Stat(fileForURL(cfg, url))
	assert.NoError(t, err)
}

func TestSaveFileDefaultFolder(t *testing.T) {
	s, cfg := newTestStore(t)
	cfg.DefaultFolder = "Hanwool"
	url, err := s.SaveFile(context.Background(), pngBytes(t), "a.png", "")
	require.NoError(t, err)
	assert.Contains(t, url, "/public/uploads/Hanwool/")
}

func TestSaveFileRejects(t *testing.T) {
	s, cfg := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveFile(ctx, []byte("just some text"), "a.png", "")
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeInvalidInput))

	_, err = s.SaveFile(ctx, nil, "a.png", "")
	assert.Error(t, err)

	_, err = s.SaveFile(ctx, pngBytes(t), "a.png", "../escape")
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeInvalidInput))

	// PNG signature with a broken body
	_, err = s.SaveFile(ctx, []byte("\x89PNG\r\n\x1a\n\x00\x00"), "a.png", "")
	assert.Error(t, err)

	cfg.MaxFileSize = 10
	_, err = s.SaveFile(ctx, pngBytes(t), "a.png", "")
	require.Error(t, err)
	assert.Equal(t, MsgTooLarge, pberrors.GetPasteError(err).Message)
}

func TestSaveDataURI(t *testing.T) {
	s, cfg := newTestStore(t)
	data := pngBytes(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	url, err := s.SaveDataURI(context.Background(), uri, "x.png", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"))

	stored, err := os.ReadFile(fileForURL(cfg, url))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestSaveDataURIErrors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveDataURI(ctx, "", "", "")
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeMissingField))

	_, err = s.SaveDataURI(ctx, "not a data url", "", "")
	require.Error(t, err)
	assert.Equal(t, MsgInvalidDataURL, pberrors.GetPasteError(err).Message)

	_, err = s.SaveDataURI(ctx, "data:image/png;base64,!!!", "", "")
	require.Error(t, err)
	assert.Equal(t, MsgInvalidDataURL, pberrors.GetPasteError(err).Message)
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "jpg", extensionOf("image/jpeg"))
	assert.Equal(t, "svg", extensionOf("image/svg+xml"))
	assert.Equal(t, "webp", extensionOf("image/webp"))
	assert.Equal(t, "png", extensionOf(""))
	assert.Equal(t, "png", extensionOf("image/"))
}
