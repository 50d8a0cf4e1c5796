package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBoundary(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()

	// Ten messages pass within the window.
	for i := 0; i < VisitorMessageLimit; i++ {
		d, err := l.CheckAndRecord(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "message %d should pass", i+1)
		now = now.Add(time.Second)
	}

	// The eleventh is rejected with a positive retry hint.
	d, err := l.CheckAndRecord(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// Once the oldest timestamp leaves the window, sends resume.
	now = now.Add(d.RetryAfter)
	d, err = l.CheckAndRecord(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterRejectionDoesNotExtendWindow(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < VisitorMessageLimit; i++ {
		_, err := l.CheckAndRecord(ctx, "v1")
		require.NoError(t, err)
	}

	// Hammering while rejected must not push the retry point out.
	first, err := l.CheckAndRecord(ctx, "v1")
	require.NoError(t, err)
	require.False(t, first.Allowed)

	now = now.Add(10 * time.Second)
	second, err := l.CheckAndRecord(ctx, "v1")
	require.NoError(t, err)
	require.False(t, second.Allowed)
	assert.Equal(t, first.RetryAfter-10*time.Second, second.RetryAfter)
}

func TestMemoryLimiterPerVisitor(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < VisitorMessageLimit; i++ {
		_, err := l.CheckAndRecord(ctx, "noisy")
		require.NoError(t, err)
	}

	d, err := l.CheckAndRecord(ctx, "noisy")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// A different visitor is unaffected.
	d, err = l.CheckAndRecord(ctx, "quiet")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRateLimitedErrorSeconds(t *testing.T) {
	assert.Equal(t, 1, (&RateLimitedError{RetryAfter: 200 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 3, (&RateLimitedError{RetryAfter: 2500 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 1, (&RateLimitedError{RetryAfter: 0}).RetryAfterSeconds())
}
