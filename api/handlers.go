package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/readers"
	"github.com/memtensor/pastebridge/pkg/storage"
	"github.com/memtensor/pastebridge/pkg/telemetry"
	"github.com/memtensor/pastebridge/pkg/types"
)

// msgUploadFailed is the only message upload clients see for server-side failures
const msgUploadFailed = "Upload failed"

// healthCheck provides a health check endpoint
// @Summary Health Check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	checks := map[string]string{"sessions": fmt.Sprintf("%d", s.sessions.Len())}
	status := "healthy"
	if _, err := os.Stat(s.store.Dir()); err != nil {
		checks["storage"] = err.Error()
		status = "degraded"
	} else {
		checks["storage"] = "ok"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

// getMetrics returns the in-process metric series
func (s *Server) getMetrics(c *gin.Context) {
	resp := MetricsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Sessions:  s.sessions.Len(),
	}
	if snap, ok := s.metrics.(interface{ Snapshot() metrics.Snapshot }); ok && s.config.MetricsEnabled {
		resp.Metrics = snap.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// upload stores one image sent as multipart field "file" or as a JSON data URL
// @Summary Upload an image
// @Tags upload
// @Accept json,mpfd
// @Produce json
// @Success 200 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/upload [post]
func (s *Server) upload(c *gin.Context) {
	ctx := c.Request.Context()
	folder := c.Query("folder")

	var (
		url string
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, ferr := c.FormFile("file")
		if ferr != nil {
			s.uploadError(c, pberrors.NewMissingFieldError("file"))
			return
		}
		if folder == "" {
			folder = c.PostForm("folder")
		}
		f, ferr := file.Open()
		if ferr != nil {
			s.uploadError(c, ferr)
			return
		}
		defer f.Close()

		data, ferr := io.ReadAll(io.LimitReader(f, s.config.Storage.MaxFileSize+1))
		if ferr != nil {
			s.uploadError(c, ferr)
			return
		}
		url, err = s.store.SaveFile(ctx, data, file.Filename, folder)
	} else {
		var req UploadRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			s.uploadError(c, pberrors.NewMissingFieldError("dataUrl").WithDetail("message", storage.MsgNoDataURL))
			return
		}
		if folder == "" {
			folder = req.Folder
		}
		url, err = s.store.SaveDataURI(ctx, req.DataURL, req.FileName, folder)
	}

	if err != nil {
		s.uploadError(c, err)
		return
	}
	s.metrics.Counter("images_stored", 1, nil)
	c.JSON(http.StatusOK, UploadResponse{URL: url})
}

// uploadError answers {error} with 400 for client mistakes and 500 otherwise
func (s *Server) uploadError(c *gin.Context, err error) {
	pe := pberrors.GetPasteError(err)
	if pe != nil && pe.Type == types.ErrorTypeValidation {
		msg := pe.Message
		if m, ok := pe.Details["message"].(string); ok {
			msg = m
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: msg, Error: msg})
		return
	}

	s.logger.Error("Upload failed", err, map[string]interface{}{"request_id": c.GetString("request_id")})
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Code:    http.StatusInternalServerError,
		Message: msgUploadFailed,
		Error:   msgUploadFailed,
	})
}

// logClipboard collects a clipboard snapshot and answers its verdict
func (s *Server) logClipboard(c *gin.Context) {
	var snapshot types.ClipboardSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		s.badRequest(c, err)
		return
	}
	verdict, reason := telemetry.LocalVerdict(snapshot.Text, snapshot.HTML, s.config.Pipeline.PlaceholderPhrases)

	s.logger.Info("Clipboard report", map[string]interface{}{
		"request_id":    c.GetString("request_id"),
		"referrer":      snapshot.Source,
		"item_types":    snapshot.ItemTypes,
		"files":         len(snapshot.Files),
		"has_file_urls": snapshot.Flags.HasFileURLs,
		"has_data_img":  snapshot.Flags.HasDataImg,
		"rtf_pict":      snapshot.Flags.RTFPict,
		"html_len":      len(snapshot.HTML),
		"verdict":       string(verdict),
	})
	s.metrics.Counter("reports_received", 1, map[string]string{"kind": "clipboard", "verdict": string(verdict)})
	c.JSON(http.StatusOK, types.ReportResponse{Verdict: verdict, Reason: reason})
}

// logFinal collects the final document content and answers its verdict
func (s *Server) logFinal(c *gin.Context) {
	var content types.FinalContent
	if err := c.ShouldBindJSON(&content); err != nil {
		s.badRequest(c, err)
		return
	}
	verdict, reason := telemetry.LocalVerdict(content.Text, content.HTML, s.config.Pipeline.PlaceholderPhrases)

	fields := map[string]interface{}{
		"request_id": c.GetString("request_id"),
		"session_id": content.SessionID,
		"html_len":   len(content.HTML),
		"text_len":   len(content.Text),
		"verdict":    string(verdict),
	}
	if verdict == types.VerdictFail {
		fields["reason"] = reason
		s.logger.Warn("Final content report", fields)
	} else {
		s.logger.Info("Final content report", fields)
	}
	s.metrics.Counter("reports_received", 1, map[string]string{"kind": "final", "verdict": string(verdict)})
	c.JSON(http.StatusOK, types.ReportResponse{Verdict: verdict, Reason: reason})
}

// createSession opens an editing session
func (s *Server) createSession(c *gin.Context) {
	var req SessionCreate
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}
	session, err := s.sessions.Create(c.Request.Context(), req.HTML)
	if err != nil {
		s.handleError(c, "Failed to create session", err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(session))
}

// getDocument returns the current document of a session
func (s *Server) getDocument(c *gin.Context) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.handleError(c, "Session not found", err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

// deleteSession closes a session
func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		s.handleError(c, "Session not found", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// paste runs the paste pipeline on a captured clipboard payload
func (s *Server) paste(c *gin.Context) {
	s.runEvent(c, false)
}

// drop runs the drop pipeline on dropped files
func (s *Server) drop(c *gin.Context) {
	s.runEvent(c, true)
}

func (s *Server) runEvent(c *gin.Context, isDrop bool) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.handleError(c, "Session not found", err)
		return
	}
	var payload readers.WirePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}

	src := readers.NewWireSource(&payload)
	orch := session.Orchestrator
	handle := orch.HandlePaste
	if isDrop {
		handle = orch.HandleDrop
	}
	outcome, err := handle(c.Request.Context(), src)
	if err != nil {
		s.handleError(c, "Paste failed", err)
		return
	}
	c.JSON(http.StatusOK, PasteResponse{Outcome: outcome, HTML: session.Document.HTML()})
}

// postPass re-scans a session document for local image references
func (s *Server) postPass(c *gin.Context) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.handleError(c, "Session not found", err)
		return
	}
	result, err := session.Orchestrator.PostPass(c.Request.Context())
	if err != nil {
		s.handleError(c, "Post-pass failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func sessionResponse(session *Session) SessionResponse {
	return SessionResponse{
		SessionID: session.ID,
		CreatedAt: session.CreatedAt,
		HTML:      session.Document.HTML(),
		Text:      session.Document.Text(),
		Images:    session.Document.ImageRefs(),
	}
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Code:    http.StatusBadRequest,
		Message: "Invalid request format",
		Error:   err.Error(),
	})
}

// handleError maps pipeline errors to HTTP status codes
func (s *Server) handleError(c *gin.Context, message string, err error) {
	requestID := c.GetString("request_id")
	status := statusOf(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error(message, err, map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}

	c.JSON(status, ErrorResponse{
		Code:    status,
		Message: message,
		Error:   err.Error(),
		Details: fmt.Sprintf("Request ID: %s", requestID),
	})
}

func statusOf(err error) int {
	if errors.Is(err, pberrors.ErrBusy) {
		return http.StatusConflict
	}
	pe := pberrors.GetPasteError(err)
	if pe == nil {
		return http.StatusInternalServerError
	}
	switch {
	case pe.Code == pberrors.ErrCodeNotFound:
		return http.StatusNotFound
	case pe.Code == pberrors.ErrCodeEditorNotReady:
		return http.StatusServiceUnavailable
	case pe.Type == types.ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
