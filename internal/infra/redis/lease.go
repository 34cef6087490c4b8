package redis

import (
	"context"
	"fmt"
	"time"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ adapter.GenerationLease = (*GenerationLease)(nil)

// GenerationLease is a single-slot per-user lease: at most one generation in
// flight per user. Backed by SetNX with a TTL, so a holder that never releases
// (crash, lost webhook) frees the slot by expiry.
type GenerationLease struct {
	cli *redis.Client
	ttl time.Duration
}

func NewGenerationLease(c *redClient, ttl time.Duration) *GenerationLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &GenerationLease{cli: c.raw(), ttl: ttl}
}

func leaseKey(userID string) string { return fmt.Sprintf("generation:lease:%s", userID) }

func (l *GenerationLease) Acquire(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, leaseKey(userID), token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrGenerationBusy
	}
	return token, nil
}

// luaRelease deletes the lease only if the caller still holds it, so an
// expired-and-reacquired lease is never released by the old holder.
var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *GenerationLease) Release(ctx context.Context, userID, token string) error {
	_, err := luaRelease.Run(ctx, l.cli, []string{leaseKey(userID)}, token).Result()
	return err
}
