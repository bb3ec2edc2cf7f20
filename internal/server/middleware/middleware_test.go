package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("k3y")(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req.Header.Set("Authorization", "bearer k3y")
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-API-Key", "k3y")
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)

	assert.Equal(t, http.StatusNoContent, serve(Auth("")(ok), httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestWebhookSecret(t *testing.T) {
	h := WebhookSecret("s3cret")(ok)

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req.Header.Set("X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook?secret=s3cret", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook?secret=nope", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging_SetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	assert.Equal(t, "abc", serve(h, req).Header().Get(RequestIDHeader))
}

type countingLimiter struct {
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{seen: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(lim, "webhook", 2, time.Minute, logger)(ok)

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 3, lim.seen["webhook:10.0.0.1"])

	lim.err = errors.New("redis down")
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)

	assert.Equal(t, http.StatusNoContent, serve(RateLimit(nil, "x", 1, time.Second, logger)(ok), req).Code)
}
