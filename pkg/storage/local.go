// Package storage persists uploaded images on the local filesystem
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// Messages returned to upload clients
const (
	MsgNoDataURL      = "No dataUrl"
	MsgInvalidDataURL = "Invalid data URL"
	MsgNotAnImage     = "Not an image"
	MsgTooLarge       = "File too large"
)

var (
	dataURLPattern = regexp.MustCompile(`(?s)^data:(.*?);base64,(.*)$`)
	unsafeExt      = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// LocalStore writes images under a directory served at a public prefix
type LocalStore struct {
	config *config.StorageConfig
	logger interfaces.Logger
}

// NewLocalStore creates the storage directory if needed
func NewLocalStore(cfg *config.StorageConfig, logger interfaces.Logger) (*LocalStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, pberrors.NewStorageError("cannot create storage directory", err)
	}
	return &LocalStore{
		config: cfg,
		logger: logger.WithFields(map[string]interface{}{"component": "local-store"}),
	}, nil
}

// Dir returns the root directory on disk
func (s *LocalStore) Dir() string { return s.config.Dir }

// PublicPrefix returns the URL path the root directory is served under
func (s *LocalStore) PublicPrefix() string { return s.config.PublicPrefix }

// SaveFile stores data under a fresh name. The extension follows the sniffed
// content type; the client file name is only logged.
func (s *LocalStore) SaveFile(ctx context.Context, data []byte, fileName, folder string) (string, error) {
	detected, err := s.validate(data)
	if err != nil {
		return "", err
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), "."); ext != "" && ext != extensionOf(detected) {
		s.logger.Debug("Client extension ignored", map[string]interface{}{
			"file_name": fileName,
			"detected":  detected,
		})
	}
	return s.write(ctx, data, extensionOf(detected), folder)
}

// SaveDataURI decodes a base64 data URI and stores it with an extension
// derived from the sniffed content type
func (s *LocalStore) SaveDataURI(ctx context.Context, dataURI, fileName, folder string) (string, error) {
	if dataURI == "" {
		return "", pberrors.NewMissingFieldError("dataUrl").WithDetail("message", MsgNoDataURL)
	}
	m := dataURLPattern.FindStringSubmatch(dataURI)
	if m == nil {
		return "", pberrors.NewInvalidInputError(MsgInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", pberrors.NewInvalidInputError(MsgInvalidDataURL).WithDetail("reason", err.Error())
	}
	detected, err := s.validate(data)
	if err != nil {
		return "", err
	}
	return s.write(ctx, data, extensionOf(detected), folder)
}

// validate enforces size, type and decodability, returning the sniffed type
func (s *LocalStore) validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", pberrors.NewInvalidInputError(MsgNotAnImage)
	}
	if s.config.MaxFileSize > 0 && int64(len(data)) > s.config.MaxFileSize {
		return "", pberrors.NewInvalidInputError(MsgTooLarge).
			WithDetail("size", len(data)).WithDetail("max", s.config.MaxFileSize)
	}

	detected := mimetype.Detect(data).String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	if !strings.HasPrefix(detected, "image/") || !s.allowed(detected) {
		return "", pberrors.NewInvalidInputError(MsgNotAnImage).WithDetail("detected", detected)
	}
	if detected != "image/svg+xml" {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", pberrors.NewInvalidInputError(MsgNotAnImage).WithDetail("reason", err.Error())
		}
	}
	return detected, nil
}

func (s *LocalStore) allowed(mime string) bool {
	if len(s.config.AllowedTypes) == 0 {
		return true
	}
	for _, t := range s.config.AllowedTypes {
		if strings.EqualFold(t, mime) {
			return true
		}
	}
	return false
}

func (s *LocalStore) write(ctx context.Context, data []byte, ext, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	folder, err := s.cleanFolder(folder)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.config.Dir, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pberrors.NewStorageError("cannot create folder", err).WithDetail("folder", folder)
	}

	name := fmt.Sprintf("%s.%s", uuid.New().String(), ext)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", pberrors.NewStorageError("cannot write file", err).WithDetail("name", name)
	}

	s.logger.Debug("Stored image", map[string]interface{}{
		"name":   name,
		"folder": folder,
		"bytes":  len(data),
	})
	return s.config.BaseURL + path.Join(s.config.PublicPrefix, folder, name), nil
}

// cleanFolder resolves the target folder and rejects paths escaping the root
func (s *LocalStore) cleanFolder(folder string) (string, error) {
	if folder == "" {
		folder = s.config.DefaultFolder
	}
	if folder == "" {
		return "", nil
	}
	normalized := strings.ReplaceAll(folder, `\`, "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return "", pberrors.NewInvalidInputError("invalid folder").WithDetail("folder", folder)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+normalized), "/"), nil
}

// extensionOf maps a media type to a file extension, png when unknown
func extensionOf(mime string) string {
	_, sub, ok := strings.Cut(strings.ToLower(mime), "/")
	if !ok || sub == "" {
		return "png"
	}
	switch sub {
	case "jpeg", "pjpeg":
		return "jpg"
	case "svg+xml":
		return "svg"
	}
	if i := strings.IndexAny(sub, "+;"); i >= 0 {
		sub = sub[:i]
	}
	if sub = unsafeExt.ReplaceAllString(sub, ""); sub == "" {
		return "png"
	}
	return sub
}
