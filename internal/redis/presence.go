package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/redis/go-redis/v9"
)

// presenceKeyTTL bounds how long an abandoned presence set lingers in Redis.
const presenceKeyTTL = 24 * time.Hour

// Members whose last heartbeat is older than models.PresenceTTL were left behind by a
// relay that stopped without leaving. They are never counted and are pruned on the
// next heartbeat.
func presenceCutoff(now time.Time) string {
	return strconv.FormatInt(now.Add(-models.PresenceTTL).UnixMilli(), 10)
}

// TouchPresence marks member as live in the presence set key, prunes stale members and
// returns the live ones.
func (c *Client) TouchPresence(ctx context.Context, key, member string) ([]string, error) {
	now := time.Now()
	pipe := c.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+presenceCutoff(now))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, presenceKeyTTL)
	members := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: presenceCutoff(now), Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("touch presence %s: %w", key, err)
	}
	return members.Val(), nil
}

// LivePresence lists the members of key that are still heartbeating.
func (c *Client) LivePresence(ctx context.Context, key string) ([]string, error) {
	return c.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: presenceCutoff(time.Now()), Max: "+inf"}).Result()
}

// CountPresence counts the members of key that are still heartbeating.
func (c *Client) CountPresence(ctx context.Context, key string) (int, error) {
	n, err := c.ZCount(ctx, key, presenceCutoff(time.Now()), "+inf").Result()
	return int(n), err
}

// IsPresent reports whether member is heartbeating in key.
func (c *Client) IsPresent(ctx context.Context, key, member string) (bool, error) {
	score, err := c.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cutoff, _ := strconv.ParseFloat(presenceCutoff(time.Now()), 64)
	return score >= cutoff, nil
}

// RemovePresence drops member from key.
func (c *Client) RemovePresence(ctx context.Context, key, member string) error {
	return c.ZRem(ctx, key, member).Err()
}
