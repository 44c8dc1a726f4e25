package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis instance, for hubs running
// more than one process behind the same channels.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// CheckAndMark uses SET NX with a TTL so check-and-mark is a single
// atomic round trip: the first delivery wins, replays see the key.
func (r *Redis) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, "dedupe:"+key, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	// ok means the key was newly set, i.e. not a duplicate.
	return !ok, nil
}
