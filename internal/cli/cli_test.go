package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/beszel-proxy/internal/config"
	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
	"github.com/homelab-tools/beszel-proxy/internal/logger"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, Version, strings.TrimSpace(out.String()))
}

func TestServeConfigErrorIsNotReportedTwice(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BESZEL_EMAIL", "")
	t.Setenv("BESZEL_PASSWORD", "")

	cmd := newRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"serve"})

	err := run(cmd, &stderr)
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	assert.Empty(t, stderr.String())
	assert.NotContains(t, out.String(), "Error:")
}

func TestRunReportsUnloggedErrors(t *testing.T) {
	cmd := newRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version", "extra"})

	require.Error(t, run(cmd, &stderr))
	assert.True(t, strings.HasPrefix(stderr.String(), "Error:"))
}

func TestPrintSystems(t *testing.T) {
	snap, err := systems.Decode([]byte(`{"items":[
		{"name":"nas","status":"up","host":"10.0.0.5","info":{"cpu":1.25,"mp":2,"dp":3,"u":90000}},
		{"name":"pi","status":"down"}
	]}`), time.Now())
	require.NoError(t, err)

	var out bytes.Buffer
	printSystems(&out, snap)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "nas")
	assert.Contains(t, lines[1], "10.0.0.5")
	assert.Contains(t, lines[1], "1.0d")
	assert.Contains(t, lines[2], "pi")
}

func TestPrintSystemsEmpty(t *testing.T) {
	var out bytes.Buffer
	printSystems(&out, systems.Snapshot{})
	assert.Equal(t, "no systems found\n", out.String())
}

func TestBuildAppServesWidget(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/collections/users/auth-with-password":
			_, _ = w.Write([]byte(`{"token":"tok"}`))
		case "/api/collections/systems/records":
			_, _ = w.Write([]byte(`{"items":[{"name":"nas","status":"up"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer hub.Close()

	cfg := config.Config{
		Env:             "test",
		HTTPHost:        "127.0.0.1",
		HTTPPort:        8091,
		RequestTimeout:  30 * time.Second,
		BeszelURL:       hub.URL,
		BeszelEmail:     "svc@example.com",
		BeszelPassword:  "pw",
		UpstreamTimeout: time.Second,
		TokenTTL:        time.Hour,
		SystemsCacheTTL: time.Second,
		MetricsEnabled:  true,
		Display:         config.Display{RedirectURL: hub.URL, ReloadInterval: 3},
	}
	a := buildApp(cfg, logger.Discard())
	defer a.streams.Close()

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widget-html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/system/nas")

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "beszel_proxy_systems 1")
	assert.Contains(t, rec.Body.String(), "beszel_proxy_token_refreshes_total 1")
}
