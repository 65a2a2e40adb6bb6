package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/beszel-proxy/internal/config"
	"github.com/homelab-tools/beszel-proxy/internal/logger"
	"github.com/homelab-tools/beszel-proxy/internal/metrics"
	"github.com/homelab-tools/beszel-proxy/internal/ratelimiter"
)

func testConfig() config.Config {
	return config.Config{
		Env:               "test",
		HTTPHost:          "127.0.0.1",
		HTTPPort:          0,
		RequestTimeout:    30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func TestHealthz(t *testing.T) {
	srv := New(testConfig(), logger.Discard(), Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := New(testConfig(), logger.Discard(), Options{Limiter: ratelimiter.New(0.001, 2, time.Minute)})
	srv.Mux().HandleFunc("/widget", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/widget", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "liveness probe bypasses the limiter")
}

func TestMetricsRouteAndObservation(t *testing.T) {
	m := metrics.New()
	srv := New(testConfig(), logger.Discard(), Options{Metrics: m})
	srv.Mux().HandleFunc("/widget", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widget", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `beszel_proxy_http_requests_total{code="418",route="/widget"} 1`)
}

func TestBaseRoutesRejectNonGet(t *testing.T) {
	srv := New(testConfig(), logger.Discard(), Options{Metrics: metrics.New()})

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"), path)

		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(req))

	req.RemoteAddr = "not-an-addr"
	assert.Equal(t, "not-an-addr", clientIP(req))
}
