package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/pastebridge/pkg/logger"
)

// TestLoggingMiddleware tests the logging middleware functionality
func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	env := setupTestServerWithLogger(t, logger.NewWriterLogger("info", &buf))

	req, _ := http.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "test-request-123")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	out := buf.String()
	assert.Contains(t, out, `"message":"HTTP Request"`)
	assert.Contains(t, out, `"request_id":"test-request-123"`)
	assert.Contains(t, out, `"path":"/health"`)
	assert.Contains(t, out, `"status_code":200`)
}

// TestRequestIDMiddleware tests the request ID middleware
func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("GenerateRequestID", func(t *testing.T) {
		env := setupTestServer(t)

		w := performRequest(env.server.router, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		requestID := w.Header().Get("X-Request-ID")
		assert.NotEmpty(t, requestID)
		assert.Len(t, requestID, 36) // UUID length
	})

	t.Run("PreservesExistingRequestID", func(t *testing.T) {
		env := setupTestServer(t)

		customRequestID := "custom-request-123"
		req, _ := http.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Request-ID", customRequestID)
		w := httptest.NewRecorder()
		env.server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, customRequestID, w.Header().Get("X-Request-ID"))
	})

	t.Run("UniqueRequestIDs", func(t *testing.T) {
		env := setupTestServer(t)

		seen := make(map[string]bool)
		for i := 0; i < 5; i++ {
			w := performRequest(env.server.router, "GET", "/health", nil)
			seen[w.Header().Get("X-Request-ID")] = true
		}
		assert.Len(t, seen, 5)
	})
}

// TestCORSMiddleware tests preflight handling
func TestCORSMiddleware(t *testing.T) {
	env := setupTestServer(t)

	req, _ := http.NewRequest("OPTIONS", "/api/upload", nil)
	req.Header.Set("Origin", "http://editor.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

// TestBodyLimitMiddleware rejects oversized uploads
func TestBodyLimitMiddleware(t *testing.T) {
	env := setupTestServer(t)
	env.server.config.Server.MaxBodyBytes = 64
	env.server.router = gin.New()
	env.server.setupMiddleware()
	env.server.setupRoutes()

	body := `{"dataUrl":"data:image/png;base64,` + strings.Repeat("A", 256) + `"}`
	req, _ := http.NewRequest("POST", "/api/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestMetricsMiddleware counts requests per route
func TestMetricsMiddleware(t *testing.T) {
	env := setupTestServer(t)

	performRequest(env.server.router, "GET", "/health", nil)
	performRequest(env.server.router, "GET", "/health", nil)
	performRequest(env.server.router, "GET", "/nowhere", nil)

	assert.Equal(t, float64(2), env.metrics.CounterValue("http_requests_total", map[string]string{
		"method": "GET", "route": "/health", "status": "200",
	}))
	assert.Equal(t, float64(1), env.metrics.CounterValue("http_requests_total", map[string]string{
		"method": "GET", "route": "unmatched", "status": "404",
	}))
}
