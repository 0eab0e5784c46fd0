package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// loggingMiddleware writes one access line per request through the app logger.
// Server errors are logged at warn.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		fields := map[string]interface{}{
			"method":      param.Method,
			"path":        param.Path,
			"status_code": param.StatusCode,
			"latency_ms":  param.Latency.Milliseconds(),
			"bytes_out":   param.BodySize,
			"client_ip":   param.ClientIP,
			"request_id":  param.Keys["request_id"],
		}
		if sid, ok := param.Keys["session_id"]; ok {
			fields["session_id"] = sid
		}
		if param.StatusCode >= http.StatusInternalServerError {
			s.logger.Warn("HTTP Request", fields)
		} else {
			s.logger.Info("HTTP Request", fields)
		}
		return ""
	})
}

// requestIDMiddleware propagates X-Request-ID, minting one when absent
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		if sid := c.Param("id"); sid != "" {
			c.Set("session_id", sid)
		}
		c.Next()
	}
}

// bodyLimitMiddleware caps request bodies; uploads carry whole images
func (s *Server) bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// metricsMiddleware counts and times requests per matched route
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		s.metrics.Counter("http_requests_total", 1, labels)
		s.metrics.Timer("http_request_duration_ms", float64(time.Since(began).Milliseconds()), labels)
	}
}
