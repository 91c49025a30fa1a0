package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tracker records which users currently have a live connection. It is a
// hint for the UI, not an authoritative state: entries simply expire when a
// user stops refreshing them.
type Tracker interface {
	MarkOnline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	BulkStatus(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// RedisTracker implements Tracker with TTL keys.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewRedisTracker constructs a RedisTracker.
func NewRedisTracker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, log: log}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

// MarkOnline refreshes the user's presence window.
func (t *RedisTracker) MarkOnline(ctx context.Context, userID string) error {
	return t.rdb.Set(ctx, presenceKey(userID), "1", t.ttl).Err()
}

// IsOnline reports whether the user's presence window is still open.
func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BulkStatus resolves presence for a set of users in one round trip.
func (t *RedisTracker) BulkStatus(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range vals {
		result[userIDs[i]] = val != nil
	}
	return result, nil
}
