package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// loginTimeout bounds a shared login regardless of which caller started it.
const loginTimeout = 30 * time.Second

// ErrEmptyToken is returned when a login succeeds without yielding a token.
var ErrEmptyToken = errors.New("auth: empty token")

// Token represents a bearer token issued by the Beszel hub.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// LoginFunc performs a password login and returns the raw access token.
type LoginFunc func(ctx context.Context) (string, error)

// TokenCache keeps one token in memory and refreshes it on expiry.
type TokenCache struct {
	login  LoginFunc
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	// OnRefresh, when set, is called after every successful login.
	OnRefresh func()

	mu    sync.Mutex
	token Token
	group singleflight.Group
}

// NewTokenCache builds a cache whose tokens live for ttl after acquisition.
func NewTokenCache(login LoginFunc, ttl time.Duration, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCache{
		login:  login,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Token returns the cached token, logging in again when it is missing or expired.
// Concurrent callers share a single login.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.token
	c.mu.Unlock()

	if cached.Valid(c.now()) {
		c.logger.Debug("using cached token")
		return cached.AccessToken, nil
	}

	// The shared login must outlive any single caller; each caller still
	// gives up when its own context ends.
	loginCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("token", func() (any, error) {
		ctx, cancel := context.WithTimeout(loginCtx, loginTimeout)
		defer cancel()
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	c.logger.Info("requesting new auth token")

	now := c.now()
	access, err := c.login(ctx)
	if err != nil {
		c.logger.Error("auth token request failed", "err", err)
		c.Invalidate()
		return "", err
	}
	if access == "" {
		c.logger.Error("token missing from login response")
		c.Invalidate()
		return "", ErrEmptyToken
	}

	c.mu.Lock()
	c.token = Token{AccessToken: access, ExpiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	if c.OnRefresh != nil {
		c.OnRefresh()
	}
	c.logger.Info("new auth token acquired")
	return access, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

// Current returns a copy of the cached token.
func (c *TokenCache) Current() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
