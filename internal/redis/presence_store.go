package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	"github.com/redis/go-redis/v9"
)

// redisPresenceStore is the imtypes.PresenceStore implementation backed by Redis.
// Entries expire with the key TTL, so a user who stops reporting goes offline.
type redisPresenceStore struct {
	client *redis.Client
	prefix string
}

// NewClient builds a client from the REDIS section and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisPresenceStore creates a presence store writing keys under prefix.
func NewRedisPresenceStore(client *redis.Client, prefix string) imtypes.PresenceStore {
	return &redisPresenceStore{client: client, prefix: prefix}
}

func (r *redisPresenceStore) key(userID string) string {
	return r.prefix + userID
}

func (r *redisPresenceStore) Set(ctx context.Context, p imtypes.UserPresence, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("presence ttl must be positive, got %s", ttl)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presence for %s: %w", p.UserID, err)
	}
	if err := r.client.Set(ctx, r.key(p.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store presence for %s: %w", p.UserID, err)
	}
	return nil
}

func (r *redisPresenceStore) Get(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}
	return decodePresence(userIDs, vals), nil
}

// decodePresence maps MGET results back onto the requested ids. Missing or
// unreadable entries become offline.
func decodePresence(userIDs []string, vals []interface{}) []imtypes.UserPresence {
	out := make([]imtypes.UserPresence, len(userIDs))
	for i, id := range userIDs {
		out[i] = imtypes.UserPresence{UserID: id, Status: imtypes.PresenceOffline}
		if i >= len(vals) {
			continue
		}
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		var p imtypes.UserPresence
		if err := json.Unmarshal([]byte(raw), &p); err != nil || !p.Status.Valid() {
			continue
		}
		p.UserID = id
		out[i] = p
	}
	return out
}
