// Package interfaces defines the contracts between pastebridge components
package interfaces

import (
	"context"

	"github.com/memtensor/pastebridge/pkg/types"
)

// ClipboardSource exposes the representations carried by one paste or drop event.
// Every accessor may fail independently of the others.
type ClipboardSource interface {
	// GetData returns one textual representation
	GetData(representation types.Representation) (string, error)

	// Items returns the native file and blob items
	Items() ([]types.NativeItem, error)
}

// Extractor turns one representation of a payload into image tasks
type Extractor interface {
	// Kind identifies the extraction strategy
	Kind() types.ExtractorKind

	// Extract returns the tasks found in the payload. On malformed input it
	// returns no tasks and a descriptive error; it never panics.
	Extract(payload *types.ClipboardPayload) ([]types.ImageTask, error)
}

// Uploader sends one image to the upload endpoint and returns its URL
type Uploader interface {
	// UploadDataURI uploads a data URI string
	UploadDataURI(ctx context.Context, dataURI, fileName string) (string, error)

	// UploadFile uploads raw bytes as a multipart file
	UploadFile(ctx context.Context, data []byte, fileName, mimeType string) (string, error)
}

// ImageStore persists uploaded images and returns their public URL
type ImageStore interface {
	SaveFile(ctx context.Context, data []byte, fileName, folder string) (string, error)
	SaveDataURI(ctx context.Context, dataURI, fileName, folder string) (string, error)
}

// Document is the live editing surface as seen by the post-pass
type Document interface {
	// HTML returns the current markup
	HTML() string

	// Text returns the visible text content
	Text() string

	// ImageRefs lists every img src and background-image url in document order
	ImageRefs() []types.ImageRef

	// SetImageRef points one reference at a new URL
	SetImageRef(ref types.ImageRef, url string) error

	// RemoveImageRef drops one reference from the document
	RemoveImageRef(ref types.ImageRef) error
}

// Editor is the narrow capability surface of the hosting editor widget
type Editor interface {
	// InsertHTML inserts markup at the current cursor without transforming it
	InsertHTML(ctx context.Context, markup string) error

	// Focus moves input focus to the editing surface
	Focus() error

	// EnableEditing switches the widget into WYSIWYG editing mode
	EnableEditing() error

	// Document returns the live document
	Document() Document
}

// Fetcher resolves a non-remote document reference to bytes
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// BusyGuard serializes paste transformations per key.
// Acquire fails with an error matching errors.ErrBusy while the key is held.
type BusyGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Reporter sends best-effort telemetry about pastes
type Reporter interface {
	// ReportClipboard sends the snapshot captured when a paste starts
	ReportClipboard(ctx context.Context, snapshot *types.ClipboardSnapshot) (*types.ReportResponse, error)

	// ReportFinal sends the document content after a paste completed
	ReportFinal(ctx context.Context, content *types.FinalContent) (*types.ReportResponse, error)

	// Close releases transport resources
	Close() error
}

// Logger defines the interface for logging implementations
type Logger interface {
	// Debug logs debug level messages
	Debug(msg string, fields ...map[string]interface{})

	// Info logs info level messages
	Info(msg string, fields ...map[string]interface{})

	// Warn logs warning level messages
	Warn(msg string, fields ...map[string]interface{})

	// Error logs error level messages
	Error(msg string, err error, fields ...map[string]interface{})

	// Fatal logs fatal level messages and exits
	Fatal(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the interface for metrics collection
type Metrics interface {
	// Counter increments a counter metric
	Counter(name string, value float64, labels map[string]string)

	// Gauge sets a gauge metric
	Gauge(name string, value float64, labels map[string]string)

	// Histogram records a histogram metric
	Histogram(name string, value float64, labels map[string]string)

	// Timer records timing metrics
	Timer(name string, duration float64, labels map[string]string)
}
