package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	rawBodyContextKey = "webhook_raw_body"
	maxWebhookBody    = 1 << 20
)

// Middleware reads the raw request body, verifies its signature and keeps the bytes
// in the context for the handler.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			slog.Warn("read webhook body", "error", err)
			c.AbortWithStatus(http.StatusOK)
			return
		}
		if err := s.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
			slog.Warn("webhook rejected", "remote", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(rawBodyContextKey, body)
		c.Next()
	}
}

// RawBodyFromContext returns the body captured by the middleware.
func RawBodyFromContext(c *gin.Context) ([]byte, bool) {
	val, ok := c.Get(rawBodyContextKey)
	if !ok {
		return nil, false
	}
	body, ok := val.([]byte)
	return body, ok
}
