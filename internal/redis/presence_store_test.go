package redis

import (
	"context"
	"testing"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePresence(t *testing.T) {
	ids := []string{"alice", "bob", "carol", "dave"}
	vals := []interface{}{
		`{"userId":"alice","status":"away","lastSeen":"2026-03-01T09:00:00Z"}`,
		nil,
		`{"status":"sleeping"}`,
		`not json`,
	}
	got := decodePresence(ids, vals)
	require.Len(t, got, 4)
	assert.Equal(t, imtypes.PresenceAway, got[0].Status)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), got[0].LastSeen)
	for _, p := range got[1:] {
		assert.Equal(t, imtypes.PresenceOffline, p.Status, p.UserID)
	}
	assert.Equal(t, "dave", got[3].UserID)
}

func TestKeyPrefix(t *testing.T) {
	s := NewRedisPresenceStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "presence:").(*redisPresenceStore)
	assert.Equal(t, "presence:alice", s.key("alice"))
}

func TestSetRejectsNonPositiveTTL(t *testing.T) {
	s := NewRedisPresenceStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "presence:")
	err := s.Set(context.Background(), imtypes.UserPresence{UserID: "alice", Status: imtypes.PresenceOnline}, 0)
	assert.Error(t, err)

	got, err := s.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
