package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"proctorlink/internal/core/domain"
	"proctorlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const lastSeenKey = "proctorlink:sessions:last_seen"

// SessionRegistry tracks session liveness on the gateway in a redis sorted
// set scored by last-seen time, so multiple gateway instances share one view.
type SessionRegistry struct {
	client *redis.Client
}

func NewSessionRegistry(client *redis.Client) ports.SessionRegistry {
	return &SessionRegistry{client: client}
}

func (r *SessionRegistry) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	err := r.client.ZAdd(ctx, lastSeenKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(id),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to touch session in Redis: %w", err)
	}
	return nil
}

func (r *SessionRegistry) LastSeen(ctx context.Context, id domain.SessionID) (time.Time, error) {
	score, err := r.client.ZScore(ctx, lastSeenKey, string(id)).Result()
	if err == redis.Nil {
		return time.Time{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get session from Redis: %w", err)
	}
	return time.UnixMilli(int64(score)), nil
}

func (r *SessionRegistry) Active(ctx context.Context, window time.Duration) ([]domain.SessionID, error) {
	cutoff := time.Now().Add(-window).UnixMilli()

	members, err := r.client.ZRangeByScore(ctx, lastSeenKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	active := make([]domain.SessionID, 0, len(members))
	for _, m := range members {
		active = append(active, domain.SessionID(m))
	}
	return active, nil
}

func (r *SessionRegistry) Remove(ctx context.Context, id domain.SessionID) error {
	if err := r.client.ZRem(ctx, lastSeenKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove session from Redis: %w", err)
	}
	return nil
}
