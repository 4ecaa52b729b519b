package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilLimiterAllows(t *testing.T) {
	var limiter *APILimiter
	require.False(t, limiter.Enabled())
	res, err := limiter.Allow(context.Background(), "u-1", "/api/submissions")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestDisabledConfigYieldsNilLimiter(t *testing.T) {
	limiter, err := NewAPILimiter(Params{Config: config.Config{}, Log: zap.NewNop()})
	require.NoError(t, err)
	require.Nil(t, limiter)
}

func TestNewRejectsNonPositiveRate(t *testing.T) {
	_, err := New(nil, 0, 10)
	require.Error(t, err)
	_, err = New(nil, 1, 0)
	require.Error(t, err)
}

func TestTokenBucketValidation(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, ErrNotConfigured)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })
	_, err = NewTokenBucket(client).Allow(context.Background(), "", 1, 1)
	require.ErrorIs(t, err, ErrInvalidBucket)
}

func TestUnreachableRedisReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := New(client, 1, 1)
	require.NoError(t, err)

	_, err = limiter.Allow(context.Background(), "u-1", "/api/submissions")
	require.Error(t, err)
}

func TestParseResult(t *testing.T) {
	res, err := parseResult([]interface{}{int64(1), "2.5", int64(1_700_000_000_000)}, 1, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 2, res.Remaining)
	require.Equal(t, 5, res.Limit)
	require.Zero(t, res.RetryAfter)
	require.Equal(t, time.UnixMilli(1_700_000_000_000).UTC().Add(2500*time.Millisecond), res.ResetAt)

	res, err = parseResult([]interface{}{int64(0), "0.25", int64(1_700_000_000_000)}, 2, 5)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 375*time.Millisecond, res.RetryAfter)

	_, err = parseResult([]interface{}{int64(1)}, 1, 1)
	require.Error(t, err)
}
