package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Request headers of the ingestion contract
const (
	HeaderTimestamp = "x-sync-timestamp"
	HeaderRequestID = "x-sync-request-id"
	HeaderSignature = "x-sync-signature"
)

const signaturePrefix = "sha256="

// EmptyBody is what status lookups are signed over
var EmptyBody = []byte("{}")

var (
	ErrBadSignature   = errors.New("bad signature")
	ErrStaleTimestamp = errors.New("stale timestamp")
	ErrNoSecret       = errors.New("sync secret not configured")
)

// BodyHash is the hex sha256 of a request body
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign returns the signature header value for a request
func Sign(secret string, timestamp int64, requestID, bodyHash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s.%s", timestamp, requestID, bodyHash)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature headers of a request against its body. The
// timestamp must lie within maxSkew of now.
func Verify(secret, timestamp, requestID, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if secret == "" {
		return ErrNoSecret
	}
	if timestamp == "" || requestID == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", ErrBadSignature)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrBadSignature)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if maxSkew > 0 && skew > maxSkew {
		return fmt.Errorf("%w: off by %s", ErrStaleTimestamp, skew.Round(time.Second))
	}
	expected := Sign(secret, ts, requestID, BodyHash(body))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
