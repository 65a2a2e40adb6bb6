package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/beszel-proxy/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(login LoginFunc) (*TokenCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTokenCache(login, 6*time.Hour, logger.Discard())
	c.now = clock.Now
	return c, clock
}

func TestTokenCacheReusesValidToken(t *testing.T) {
	var calls int32
	c, clock := newTestCache(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "tok-1", nil
	})

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
		clock.Advance(time.Hour)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC), c.Current().ExpiresAt)
}

func TestTokenCacheRefreshesAfterExpiry(t *testing.T) {
	var calls int32
	c, clock := newTestCache(func(context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "first", nil
		}
		return "second", nil
	})

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	clock.Advance(6 * time.Hour)

	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}

func TestTokenCacheLoginFailureLeavesCacheEmpty(t *testing.T) {
	boom := errors.New("connection refused")
	c, _ := newTestCache(func(context.Context) (string, error) {
		return "", boom
	})

	_, err := c.Token(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, c.Current().AccessToken)
}

func TestTokenCacheFailedRefreshDropsExpiredToken(t *testing.T) {
	boom := errors.New("connection refused")
	var calls int32
	c, clock := newTestCache(func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "old", nil
		}
		return "", boom
	})

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "old", c.Current().AccessToken)

	clock.Advance(7 * time.Hour)

	_, err = c.Token(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Token{}, c.Current())
}

func TestTokenCacheCancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "tok", nil
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Token(ctxA)
		errA <- err
	}()
	<-started

	type result struct {
		tok string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		tok, err := c.Token(context.Background())
		resB <- result{tok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "tok", b.tok)
	assert.Equal(t, "tok", c.Current().AccessToken)
}

func TestTokenCacheRejectsEmptyToken(t *testing.T) {
	c, _ := newTestCache(func(context.Context) (string, error) {
		return "", nil
	})

	_, err := c.Token(context.Background())
	require.ErrorIs(t, err, ErrEmptyToken)
}

func TestTokenCacheInvalidate(t *testing.T) {
	var calls int32
	var refreshed int32
	c, _ := newTestCache(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", nil
	})
	c.OnRefresh = func() { atomic.AddInt32(&refreshed, 1) }

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.Token(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&refreshed))
}

func TestTokenCacheCollapsesConcurrentLogins(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c, _ := newTestCache(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	})

	const callers = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]string, callers)
	wg.Add(callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			started.Done()
			tok, err := c.Token(context.Background())
			if err == nil {
				results[i] = tok
			}
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
