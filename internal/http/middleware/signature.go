package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/lexisync/internal/http/response"
	"github.com/example/lexisync/internal/ingest"
	"github.com/example/lexisync/internal/logger"
)

// RawBodyKey is where the verified request body is kept on the gin context
const RawBodyKey = "sync.rawBody"

// maxBodyBytes bounds what a signed request may carry
const maxBodyBytes = 32 << 20

type SignatureMiddleware struct {
	log     *logger.Logger
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewSignatureMiddleware(log *logger.Logger, secret string, maxSkew time.Duration, now func() time.Time) *SignatureMiddleware {
	if now == nil {
		now = time.Now
	}
	return &SignatureMiddleware{
		log:     log.With("Middleware", "SignatureMiddleware"),
		secret:  secret,
		maxSkew: maxSkew,
		now:     now,
	}
}

// RequireSignature verifies the x-sync-* headers against the raw body.
// Bodiless requests are verified over "{}". When the route has a
// :requestId param it must match the signed request id.
func (m *SignatureMiddleware) RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			response.AbortWithError(c, http.StatusBadRequest, "unreadable_body", err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		signed := body
		if len(bytes.TrimSpace(body)) == 0 {
			signed = ingest.EmptyBody
		}
		requestID := c.GetHeader(ingest.HeaderRequestID)
		err = ingest.Verify(m.secret, c.GetHeader(ingest.HeaderTimestamp), requestID,
			c.GetHeader(ingest.HeaderSignature), signed, m.now(), m.maxSkew)
		if err == nil {
			if param := c.Param("requestId"); param != "" && param != requestID {
				err = ingest.ErrBadSignature
			}
		}
		if err != nil {
			m.log.Warn("rejected sync request", "error", err, "request_id", requestID, "path", c.Request.URL.Path)
			switch {
			case errors.Is(err, ingest.ErrNoSecret):
				response.AbortWithError(c, http.StatusServiceUnavailable, "sync_disabled", err)
			case errors.Is(err, ingest.ErrStaleTimestamp):
				response.AbortWithError(c, http.StatusUnauthorized, "stale_timestamp", err)
			default:
				response.AbortWithError(c, http.StatusUnauthorized, "bad_signature", err)
			}
			return
		}
		c.Set(RawBodyKey, body)
		c.Next()
	}
}
