package veriflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errGuardRedisUnavailable = errors.New("resend guard redis unavailable")

// resendGuard throttles code issuance per (workflow, subject). The lock is
// a bare presence marker: while it lives, no new code may be issued for the
// scope. Every successful issuance re-sets the lock unconditionally, so a
// locked scope always had its most recent send inside the cooldown window.
type resendGuard struct {
	redis  *redis.Client
	prefix string
}

func newResendGuard(redisClient *redis.Client, prefix string) *resendGuard {
	return &resendGuard{redis: redisClient, prefix: prefix}
}

func (g *resendGuard) key(workflow Workflow, subject string) string {
	return g.prefix + ":lock:" + string(workflow) + ":" + subject
}

func (g *resendGuard) IsLocked(ctx context.Context, workflow Workflow, subject string) (bool, error) {
	n, err := g.redis.Exists(ctx, g.key(workflow, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errGuardRedisUnavailable, err)
	}
	return n > 0, nil
}

func (g *resendGuard) Lock(ctx context.Context, workflow Workflow, subject string, cooldown time.Duration) error {
	if err := g.redis.Set(ctx, g.key(workflow, subject), "1", cooldown).Err(); err != nil {
		return fmt.Errorf("%w: %v", errGuardRedisUnavailable, err)
	}
	return nil
}

func (g *resendGuard) Unlock(ctx context.Context, workflow Workflow, subject string) error {
	if err := g.redis.Del(ctx, g.key(workflow, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errGuardRedisUnavailable, err)
	}
	return nil
}
