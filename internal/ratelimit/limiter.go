package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/contentgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyAPIUser = "contentgate:ratelimit:%s:%s"

// APILimiter throttles mutating end-user requests per user and route.
// A nil limiter allows everything.
type APILimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

func NewAPILimiter(p Params) (*APILimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(limitCfg.RedisPassword),
		DB:           limitCfg.RedisDB,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	limiter, err := New(client, limitCfg.Rate, limitCfg.Burst)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	p.Log.Named("ratelimit").Info("api rate limit enabled",
		zap.String("redis_addr", addr),
		zap.Float64("rate", limitCfg.Rate),
		zap.Int("burst", limitCfg.Burst),
	)
	return limiter, nil
}

func New(client redis.Scripter, rate float64, burst int) (*APILimiter, error) {
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("api rate limit must be positive")
	}
	return &APILimiter{bucket: NewTokenBucket(client), rate: rate, burst: burst}, nil
}

func (l *APILimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *APILimiter) Allow(ctx context.Context, userID, route string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyAPIUser, strings.TrimSpace(userID), strings.TrimSpace(route))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
