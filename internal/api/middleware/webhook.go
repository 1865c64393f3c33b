package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ellipsesearch/visibility/internal/api/response"
)

const (
	timestampHeader = "X-Webhook-Timestamp"
	signatureHeader = "X-Webhook-Signature"
)

// WebhookAuth authenticates remote automation workers. Two schemes are
// accepted: a static bearer secret, or an HMAC-SHA256 signature over
// "timestamp.body" with a bounded timestamp skew so captured requests cannot
// be replayed later. Authentication failure performs no state mutation.
//
// The body is capped and buffered here (signing requires the raw bytes), then
// handed to the handler unchanged.
type WebhookAuth struct {
	secret       []byte
	maxSkew      time.Duration
	maxBodyBytes int64
	now          func() time.Time
}

// NewWebhookAuth creates the worker-facing auth middleware.
func NewWebhookAuth(secret string, maxSkew time.Duration, maxBodyBytes int64) *WebhookAuth {
	return &WebhookAuth{
		secret:       []byte(secret),
		maxSkew:      maxSkew,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// Authenticate verifies the caller before any parsing beyond the size cap.
func (wa *WebhookAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, wa.maxBodyBytes)
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"PAYLOAD_TOO_LARGE", "Request body exceeds the size limit", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if token := extractBearerToken(r); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), wa.secret) != 1 {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Invalid webhook secret", nil)
				return
			}
		} else if r.Header.Get(signatureHeader) != "" {
			if code, msg := wa.verifySignature(r, body); code != 0 {
				response.Error(w, code, "INVALID_SIGNATURE", msg, nil)
				return
			}
		} else {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing authentication", nil)
			return
		}

		if workerID := r.URL.Query().Get("worker_id"); workerID != "" {
			r = r.WithContext(SetWorkerID(r.Context(), workerID))
		}
		next.ServeHTTP(w, r)
	})
}

// verifySignature checks the timestamp skew window first, then the HMAC.
// Returns a non-zero status code on failure.
func (wa *WebhookAuth) verifySignature(r *http.Request, body []byte) (int, string) {
	tsRaw := r.Header.Get(timestampHeader)
	if tsRaw == "" {
		return http.StatusUnauthorized, "Missing timestamp header"
	}
	tsUnix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return http.StatusUnauthorized, "Invalid timestamp header"
	}

	age := wa.now().Sub(time.Unix(tsUnix, 0))
	if age > wa.maxSkew || age < -wa.maxSkew {
		return http.StatusForbidden, "Stale webhook timestamp"
	}

	mac := hmac.New(sha256.New, wa.secret)
	mac.Write([]byte(tsRaw))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(r.Header.Get(signatureHeader))) {
		return http.StatusUnauthorized, "Signature mismatch"
	}
	return 0, ""
}

// readBody drains up to maxBytes of the request body. An oversized body is
// rejected before any parsing, never partially processed.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	limited := http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, maxErr
		}
		return nil, err
	}
	return body, nil
}
