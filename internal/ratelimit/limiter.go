package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter keys in Redis.
const DefaultPrefix = "rl"

// Result is the outcome of one limiter check.
type Result struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
	Reached   bool
}

// Limiter decides whether a key may perform another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Window is a fixed-window limiter backed by any ulule store.
type Window struct {
	L *limiter.Limiter
}

// NewStore returns a Redis-backed store, or an in-process store when rdb is nil.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if rdb == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix}), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// New builds a Window from a formatted rate such as "60-M" or "5-S".
func New(store limiter.Store, formatted string) (Window, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return Window{}, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}
	return Window{L: limiter.New(store, rate)}, nil
}

// Allow implements Limiter.
func (w Window) Allow(ctx context.Context, key string) (Result, error) {
	if w.L == nil {
		return Result{}, nil
	}
	lc, err := w.L.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		Reset:     time.Unix(lc.Reset, 0),
		Reached:   lc.Reached,
	}, nil
}
