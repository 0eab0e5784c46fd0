package uploader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/logger"
)

func newTestUploader(t *testing.T, endpoint string) *HTTPUploader {
	t.Helper()
	cfg := config.NewUploadConfig()
	cfg.Endpoint = endpoint
	cfg.Timeout = 2 * time.Second
	cfg.RetryDelay = time.Millisecond
	cfg.Folder = "notes"
	u, err := NewHTTPUploader(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	return u
}

func TestNewHTTPUploaderRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPUploader(nil, logger.NewTestLogger())
	assert.Error(t, err)

	cfg := config.NewUploadConfig()
	cfg.Endpoint = ""
	_, err = NewHTTPUploader(cfg, logger.NewTestLogger())
	assert.Error(t, err)
}

func TestUploadDataURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var body uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "data:image/png;base64,AAAA", body.DataURL)
		assert.Equal(t, "a.png", body.FileName)
		assert.Equal(t, "notes", body.Folder)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"/public/uploads/notes/x.png"}`))
	}))
	defer srv.Close()

	url, err := newTestUploader(t, srv.URL).UploadDataURI(context.Background(), "data:image/png;base64,AAAA", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "/public/uploads/notes/x.png", url)
}

func TestUploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "notes", r.FormValue("folder"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{1, 2, 3}, data)
		assert.Equal(t, "b.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"/u/b.jpg"}`))
	}))
	defer srv.Close()

	url, err := newTestUploader(t, srv.URL).UploadFile(context.Background(), []byte{1, 2, 3}, "b.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/u/b.jpg", url)
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Upload failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"url":"/u/ok.png"}`))
	}))
	defer srv.Close()

	url, err := newTestUploader(t, srv.URL).UploadDataURI(context.Background(), "data:image/png;base64,AAAA", "ok.png")
	require.NoError(t, err)
	assert.Equal(t, "/u/ok.png", url)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid data URL"}`))
	}))
	defer srv.Close()

	_, err := newTestUploader(t, srv.URL).UploadDataURI(context.Background(), "data:nope", "x.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data URL")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadEmptyURLIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestUploader(t, srv.URL).UploadFile(context.Background(), []byte{1}, "x.png", "image/png")
	assert.Error(t, err)
}

type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) SaveFile(ctx context.Context, data []byte, fileName, folder string) (string, error) {
	args := m.Called(ctx, data, fileName, folder)
	return args.String(0), args.Error(1)
}

func (m *MockImageStore) SaveDataURI(ctx context.Context, dataURI, fileName, folder string) (string, error) {
	args := m.Called(ctx, dataURI, fileName, folder)
	return args.String(0), args.Error(1)
}

func TestDirectUploader(t *testing.T) {
	store := &MockImageStore{}
	ctx := context.Background()
	store.On("SaveFile", ctx, []byte{9}, "a.png", "drop").Return("/u/a.png", nil)
	store.On("SaveDataURI", ctx, "data:image/gif;base64,R0lG", "b.gif", "drop").Return("/u/b.gif", nil)

	u := NewDirectUploader(store, "drop")
	url, err := u.UploadFile(ctx, []byte{9}, "a.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/u/a.png", url)

	url, err = u.UploadDataURI(ctx, "data:image/gif;base64,R0lG", "b.gif")
	require.NoError(t, err)
	assert.Equal(t, "/u/b.gif", url)
	store.AssertExpectations(t)
}
