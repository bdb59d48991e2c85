package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultHoldTTL = 30 * time.Second

// Holder grants short-lived exclusive claims on a (doctor, slot) pair.
type Holder interface {
	Acquire(ctx context.Context, doctorID string, at time.Time) (release func(), ok bool, err error)
}

type noopHolder struct{}

func (noopHolder) Acquire(context.Context, string, time.Time) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the hold only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisHolder claims slots with SET NX and a TTL so a crashed request
// cannot pin a slot forever.
type RedisHolder struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisHolder returns a Redis-backed holder. A nil client yields nil.
func NewRedisHolder(client *redis.Client, ttl time.Duration) *RedisHolder {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	return &RedisHolder{client: client, ttl: ttl, prefix: "slot-hold"}
}

func (h *RedisHolder) key(doctorID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", h.prefix, doctorID, at.UTC().Unix())
}

func (h *RedisHolder) Acquire(ctx context.Context, doctorID string, at time.Time) (func(), bool, error) {
	key := h.key(doctorID, at)
	token := uuid.NewString()
	ok, err := h.client.SetNX(ctx, key, token, h.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("scheduling: acquire hold: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, h.client, []string{key}, token).Err()
	}
	return release, true, nil
}
