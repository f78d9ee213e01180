package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/opine-ai/opine/internal/session"
)

const janitorLockKey = "opine:janitor:lock"

// Janitor prunes idle sessions on a cron schedule. With several instances
// behind a balancer a Redis SetNX lock keeps the prune single-flight; with
// no Redis client it simply runs locally.
type Janitor struct {
	Sessions session.Store
	Redis    *redis.Client
	Schedule string
	TTL      time.Duration
	Logger   *log.Logger
}

func (j *Janitor) Run(ctx context.Context) {
	logger := j.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(j.Schedule)
	if err != nil {
		logger.Printf("invalid schedule %q, janitor disabled: %v", j.Schedule, err)
		return
	}
	ttl := j.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			logger.Printf("schedule %q yields no next run, janitor stopping", j.Schedule)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if !j.acquireLock(ctx) {
			continue
		}
		removed, err := j.Sessions.PruneIdle(ctx, time.Now().Add(-ttl))
		if err != nil {
			logger.Printf("prune failed: %v", err)
			continue
		}
		if removed > 0 {
			logger.Printf("pruned %d idle session(s)", removed)
		}
	}
}

func (j *Janitor) acquireLock(ctx context.Context) bool {
	if j.Redis == nil {
		return true
	}
	ok, err := j.Redis.SetNX(ctx, janitorLockKey, "1", time.Minute).Result()
	if err != nil {
		return false
	}
	return ok
}
