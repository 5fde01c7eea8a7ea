package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTokenCache()
	c.now = func() time.Time { return now }

	_, ok := c.Get()
	assert.False(t, ok)
	assert.Zero(t, c.TTL())

	c.Set("tok", time.Minute)
	tok, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, time.Minute-tokenRefreshBuffer, c.TTL())

	now = now.Add(56 * time.Second)
	_, ok = c.Get()
	assert.False(t, ok, "token is renewed before the server expires it")

	c.Set("forever", 0)
	now = now.Add(24 * 365 * time.Hour)
	_, ok = c.Get()
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestTokenCacheSingleRefresh(t *testing.T) {
	t.Parallel()

	c := NewTokenCache()
	var refreshes atomic.Int32
	refresh := func(context.Context) (string, time.Duration, error) {
		refreshes.Add(1)
		time.Sleep(10 * time.Millisecond)
		return "tok", time.Hour, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token(context.Background(), refresh)
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestTokenCacheRefreshError(t *testing.T) {
	t.Parallel()

	c := NewTokenCache()
	boom := errors.New("login failed")
	_, err := c.Token(context.Background(), func(context.Context) (string, time.Duration, error) {
		return "", 0, boom
	})
	require.ErrorIs(t, err, boom)
	_, ok := c.Get()
	assert.False(t, ok, "failed refresh leaves the cache empty")
}
