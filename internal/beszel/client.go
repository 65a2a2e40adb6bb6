// Package beszel talks to the PocketBase REST API of a Beszel hub.
package beszel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/homelab-tools/beszel-proxy/internal/auth"
	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
	"github.com/homelab-tools/beszel-proxy/internal/httpclient"
)

const (
	authPath    = "/api/collections/users/auth-with-password"
	systemsPath = "/api/collections/systems/records"

	maxBodyBytes = 8 << 20
)

var (
	// ErrUnexpectedStatus is wrapped with the status code of a non-2xx hub response.
	ErrUnexpectedStatus = errors.New("beszel: unexpected status")
	// ErrUnauthorized is returned when the hub rejects the bearer token.
	ErrUnauthorized = errors.New("beszel: unauthorized")
	// ErrTokenMissing is returned when a login response carries no token.
	ErrTokenMissing = errors.New("beszel: token missing from login response")
)

// Upstream operation names reported to the Observer.
const (
	OpLogin   = "login"
	OpSystems = "systems"
)

// Observer receives the outcome of every hub request.
type Observer interface {
	ObserveUpstream(op string, err error, elapsed time.Duration)
}

// Options configures a hub client.
type Options struct {
	BaseURL    string
	Email      string
	Password   string
	HTTPClient *http.Client
	// Timeout bounds each hub request on top of the caller's context.
	Timeout  time.Duration
	TokenTTL time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Client is a systems.Source backed by a Beszel hub.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
	tokens   *auth.TokenCache
}

var _ systems.Source = (*Client)(nil)

// New builds a hub client with its own token cache.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		cfg := httpclient.DefaultConfig()
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		hc = httpclient.New(cfg)
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		email:    opts.Email,
		password: opts.Password,
		http:     hc,
		timeout:  opts.Timeout,
		logger:   log.With("component", "beszel"),
		observer: opts.Observer,
	}
	c.tokens = auth.NewTokenCache(c.Login, ttl, c.logger)
	return c
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *auth.TokenCache {
	return c.tokens
}

// Login exchanges the service account credentials for a bearer token.
func (c *Client) Login(ctx context.Context) (token string, err error) {
	start := time.Now()
	defer func() { c.observe(OpLogin, err, time.Since(start)) }()

	payload, err := json.Marshal(map[string]string{
		"identity": c.email,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("login: decode response: %w", err)
	}
	if resp.Token == "" {
		return "", ErrTokenMissing
	}
	return resp.Token, nil
}

// Systems reads the systems collection with the given bearer token.
func (c *Client) Systems(ctx context.Context, token string) (snap systems.Snapshot, err error) {
	start := time.Now()
	defer func() { c.observe(OpSystems, err, time.Since(start)) }()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+systemsPath, nil)
	if err != nil {
		return systems.Snapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return systems.Snapshot{}, fmt.Errorf("systems: %w", err)
	}
	return systems.Decode(body, time.Now())
}

// FetchSystems implements systems.Source. A token rejected by the hub is
// dropped and the read retried once with a fresh login.
func (c *Client) FetchSystems(ctx context.Context) (systems.Snapshot, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return systems.Snapshot{}, fmt.Errorf("%w: %w", systems.ErrAuth, err)
	}

	snap, err := c.Systems(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		c.logger.Warn("hub rejected cached token, logging in again")
		c.tokens.Invalidate()
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return systems.Snapshot{}, fmt.Errorf("%w: %w", systems.ErrAuth, err)
		}
		snap, err = c.Systems(ctx, token)
	}
	if err != nil {
		c.logger.Error("failed to fetch systems", "err", err)
		return systems.Snapshot{}, fmt.Errorf("%w: %w", systems.ErrFetch, err)
	}
	return snap, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

func (c *Client) observe(op string, err error, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveUpstream(op, err, elapsed)
	}
}
