// Package uploader sends extracted images to the upload endpoint
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// uploadRequest is the JSON body for data URI uploads
type uploadRequest struct {
	DataURL  string `json:"dataUrl"`
	FileName string `json:"fileName,omitempty"`
	Folder   string `json:"folder,omitempty"`
}

// uploadResponse covers both the success and error bodies of the endpoint
type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// statusError is a non-2xx reply from the endpoint
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("upload endpoint returned status %d", e.status)
	}
	return fmt.Sprintf("upload endpoint returned status %d: %s", e.status, e.msg)
}

// HTTPUploader posts images to an upload endpoint over HTTP
type HTTPUploader struct {
	client *resty.Client
	config *config.UploadConfig
	logger interfaces.Logger
}

// NewHTTPUploader creates an uploader for cfg.Endpoint
func NewHTTPUploader(cfg *config.UploadConfig, logger interfaces.Logger) (*HTTPUploader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("upload endpoint is required")
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "PasteBridge/1.0")
	client.SetHeader("Accept", "application/json")

	return &HTTPUploader{
		client: client,
		config: cfg,
		logger: logger.WithFields(map[string]interface{}{"component": "http-uploader"}),
	}, nil
}

// UploadDataURI posts {dataUrl, fileName, folder} as JSON
func (u *HTTPUploader) UploadDataURI(ctx context.Context, dataURI, fileName string) (string, error) {
	body := uploadRequest{DataURL: dataURI, FileName: fileName, Folder: u.config.Folder}
	return u.withRetry(ctx, fileName, func() (*resty.Response, *uploadResponse, error) {
		result := &uploadResponse{}
		resp, err := u.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(result).
			SetError(result).
			Post(u.config.Endpoint)
		return resp, result, err
	})
}

// UploadFile posts the bytes as the multipart field "file"
func (u *HTTPUploader) UploadFile(ctx context.Context, data []byte, fileName, mimeType string) (string, error) {
	if fileName == "" {
		fileName = "image"
	}
	return u.withRetry(ctx, fileName, func() (*resty.Response, *uploadResponse, error) {
		result := &uploadResponse{}
		req := u.client.R().
			SetContext(ctx).
			SetMultipartField("file", fileName, mimeType, bytes.NewReader(data)).
			SetResult(result).
			SetError(result)
		if u.config.Folder != "" {
			req.SetFormData(map[string]string{"folder": u.config.Folder})
		}
		resp, err := req.Post(u.config.Endpoint)
		return resp, result, err
	})
}

// withRetry retries transport failures and 5xx replies
func (u *HTTPUploader) withRetry(ctx context.Context, fileName string, send func() (*resty.Response, *uploadResponse, error)) (string, error) {
	var url string
	err := retry.Do(
		func() error {
			resp, result, err := send()
			if err != nil {
				return fmt.Errorf("upload request failed: %w", err)
			}
			if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
				return &statusError{status: resp.StatusCode(), msg: result.Error}
			}
			if result.URL == "" {
				return retry.Unrecoverable(errors.New("upload response has no url"))
			}
			url = result.URL
			return nil
		},
		retry.Attempts(u.attempts()),
		retry.Delay(u.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			u.logger.Debug("Retrying upload", map[string]interface{}{
				"file":    fileName,
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (u *HTTPUploader) attempts() uint {
	if u.config.RetryAttempts == 0 {
		return 1
	}
	return u.config.RetryAttempts
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
