package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "chat:presence"

// connectScript adds a connection to the user's set and returns 1 when it was
// the first one. Running it as a script keeps the add and the count atomic
// across instances.
var connectScript = redis.NewScript(`
local added = redis.call("SADD", KEYS[1], ARGV[1])
if added == 0 then
	return 0
end
redis.call("SADD", KEYS[2], ARGV[2])
if redis.call("SCARD", KEYS[1]) == 1 then
	return 1
end
return 0
`)

// disconnectScript removes a connection and returns 1 when the set became empty
var disconnectScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[1], ARGV[1])
if removed == 0 then
	return 0
end
if redis.call("SCARD", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisTracker shares presence between gateway instances through Redis sets:
// one set of connection ids per user and one set of online users.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisTracker(client *redis.Client, prefix string) *RedisTracker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisTracker{client: client, prefix: prefix}
}

func (t *RedisTracker) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", t.prefix, userID)
}

func (t *RedisTracker) onlineKey() string {
	return t.prefix + ":online"
}

func (t *RedisTracker) Connect(ctx context.Context, userID, connID string) (bool, error) {
	n, err := connectScript.Run(ctx, t.client, []string{t.userKey(userID), t.onlineKey()}, connID, userID).Int()
	if err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return n == 1, nil
}

func (t *RedisTracker) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	n, err := disconnectScript.Run(ctx, t.client, []string{t.userKey(userID), t.onlineKey()}, connID, userID).Int()
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	return n == 1, nil
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := t.client.SIsMember(ctx, t.onlineKey(), userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return ok, nil
}

func (t *RedisTracker) Online(ctx context.Context) ([]string, error) {
	users, err := t.client.SMembers(ctx, t.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	sort.Strings(users)
	return users, nil
}
