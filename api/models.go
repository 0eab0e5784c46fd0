package api

import (
	"time"

	"github.com/memtensor/pastebridge/pkg/core"
	"github.com/memtensor/pastebridge/pkg/types"
)

// UploadRequest is the JSON form of an upload
type UploadRequest struct {
	DataURL  string `json:"dataUrl" example:"data:image/png;base64,iVBORw0KGgo..."`
	FileName string `json:"fileName,omitempty" example:"pasted.png"`
	Folder   string `json:"folder,omitempty" example:"notices"`
}

// UploadResponse carries the public URL of a stored image
type UploadResponse struct {
	URL string `json:"url"`
}

// SessionCreate creates an editing session, optionally with initial content
type SessionCreate struct {
	HTML string `json:"html,omitempty" example:"<p>draft</p>"`
}

// SessionResponse describes a session and its document
type SessionResponse struct {
	SessionID string           `json:"session_id"`
	CreatedAt time.Time        `json:"created_at"`
	HTML      string           `json:"html"`
	Text      string           `json:"text"`
	Images    []types.ImageRef `json:"images"`
}

// PasteResponse reports the outcome of a paste or drop with the resulting document
type PasteResponse struct {
	Outcome *core.Outcome `json:"outcome"`
	HTML    string        `json:"html"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// ErrorResponse represents an error response. Error carries the message
// upload clients display.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// MetricsResponse represents metrics response
type MetricsResponse struct {
	Timestamp string      `json:"timestamp"`
	Uptime    string      `json:"uptime"`
	Sessions  int         `json:"sessions"`
	Metrics   interface{} `json:"metrics"`
}
