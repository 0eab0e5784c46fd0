package uploader

import (
	"context"

	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// DirectUploader writes straight to an image store, bypassing HTTP.
// The replay harness and the in-process sessions use it.
type DirectUploader struct {
	store  interfaces.ImageStore
	folder string
}

// NewDirectUploader creates an uploader saving into folder of store
func NewDirectUploader(store interfaces.ImageStore, folder string) *DirectUploader {
	return &DirectUploader{store: store, folder: folder}
}

// UploadDataURI saves a data URI
func (u *DirectUploader) UploadDataURI(ctx context.Context, dataURI, fileName string) (string, error) {
	return u.store.SaveDataURI(ctx, dataURI, fileName, u.folder)
}

// UploadFile saves raw bytes
func (u *DirectUploader) UploadFile(ctx context.Context, data []byte, fileName, mimeType string) (string, error) {
	return u.store.SaveFile(ctx, data, fileName, u.folder)
}
