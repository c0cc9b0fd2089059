package services

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

// PresenceMirror replicates presence transitions into Redis so collaborators
// outside this process (cron jobs, the REST layer of other services) can read
// who is online without touching the in-memory registries. Every write is
// best effort; the in-memory state stays authoritative.
type PresenceMirror struct {
	client *redis.Client

	// statusTTL bounds how long a stale status hash survives if the process
	// dies without demoting its users.
	statusTTL  time.Duration
	offlineTTL time.Duration
}

// NewPresenceMirror wraps a Redis client.
func NewPresenceMirror(client *redis.Client) *PresenceMirror {
	return &PresenceMirror{
		client:     client,
		statusTTL:  5 * time.Minute,
		offlineTTL: 24 * time.Hour,
	}
}

// SetUserOnline adds the user to the online set and refreshes their status
// hash.
func (m *PresenceMirror) SetUserOnline(ctx context.Context, userID string) error {
	pipe := m.client.Pipeline()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey(userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, statusKey(userID), m.statusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to mirror user online", "userID", userID, "error", err)
		return err
	}
	return nil
}

// SetUserOffline removes the user from the online set and records the
// offline transition with a long expiry.
func (m *PresenceMirror) SetUserOffline(ctx context.Context, userID string) error {
	pipe := m.client.Pipeline()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey(userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, statusKey(userID), m.offlineTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to mirror user offline", "userID", userID, "error", err)
		return err
	}
	return nil
}

// IsUserOnline reads the mirrored online set.
func (m *PresenceMirror) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return m.client.SIsMember(ctx, onlineUsersKey, userID).Result()
}

// OnlineUsers returns the mirrored online set.
func (m *PresenceMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.client.SMembers(ctx, onlineUsersKey).Result()
}

func statusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}
