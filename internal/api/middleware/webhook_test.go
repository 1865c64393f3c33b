package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "wh_test_secret"

func newTestWebhookAuth() (*WebhookAuth, time.Time) {
	wa := NewWebhookAuth(testSecret, 300*time.Second, 1024)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wa.now = func() time.Time { return now }
	return wa, now
}

// passThrough records whether the wrapped handler ran and echoes the body it
// received, so body restoration after signing is verifiable.
func passThrough(called *bool, gotBody *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		b, _ := io.ReadAll(r.Body)
		*gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})
}

func sign(t *testing.T, secret, tsRaw string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsRaw))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestWebhookAuth_BearerSecret(t *testing.T) {
	wa, _ := newTestWebhookAuth()

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", strings.NewReader(`{"event":"x"}`))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Equal(t, `{"event":"x"}`, gotBody)
}

func TestWebhookAuth_WrongBearerRejected(t *testing.T) {
	wa, _ := newTestWebhookAuth()

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestWebhookAuth_ValidSignature(t *testing.T) {
	wa, now := newTestWebhookAuth()

	body := []byte(`{"event":"prompt_completed"}`)
	tsRaw := strconv.FormatInt(now.Add(-10*time.Second).Unix(), 10)

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Timestamp", tsRaw)
	req.Header.Set("X-Webhook-Signature", sign(t, testSecret, tsRaw, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Equal(t, string(body), gotBody)
}

func TestWebhookAuth_StaleTimestampRejected(t *testing.T) {
	wa, now := newTestWebhookAuth()

	body := []byte(`{"event":"prompt_completed"}`)
	// 400 seconds old with a perfectly valid signature: still rejected.
	tsRaw := strconv.FormatInt(now.Add(-400*time.Second).Unix(), 10)

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Timestamp", tsRaw)
	req.Header.Set("X-Webhook-Signature", sign(t, testSecret, tsRaw, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called, "stale request must not reach the handler")
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))
}

func TestWebhookAuth_TamperedBodyRejected(t *testing.T) {
	wa, now := newTestWebhookAuth()

	tsRaw := strconv.FormatInt(now.Unix(), 10)
	signature := sign(t, testSecret, tsRaw, []byte(`{"success":true}`))

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results",
		strings.NewReader(`{"success":false}`))
	req.Header.Set("X-Webhook-Timestamp", tsRaw)
	req.Header.Set("X-Webhook-Signature", signature)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestWebhookAuth_MissingTimestampRejected(t *testing.T) {
	wa, _ := newTestWebhookAuth()

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestWebhookAuth_NoCredentialsRejected(t *testing.T) {
	wa, _ := newTestWebhookAuth()

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestWebhookAuth_OversizedBodyRejected(t *testing.T) {
	wa, _ := newTestWebhookAuth() // 1 KiB cap

	var called bool
	var gotBody string
	h := wa.Authenticate(passThrough(&called, &gotBody))

	big := strings.Repeat("x", 2048)
	req := httptest.NewRequest(http.MethodPost, "/api/rpa/results", strings.NewReader(big))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called, "oversized body must be rejected before parsing")
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rec))
}

func TestWebhookAuth_WorkerIDFromQuery(t *testing.T) {
	wa, _ := newTestWebhookAuth()

	var workerID string
	h := wa.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workerID, _ = GetWorkerID(r)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/rpa/heartbeat?worker_id=worker-7", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "worker-7", workerID)
}
