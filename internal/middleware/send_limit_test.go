package middleware

import (
	"testing"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSendAllowed_SharedWindowInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	database.Redis = client
	t.Cleanup(func() { database.Redis = nil })

	for i := 0; i < userSendLimit; i++ {
		require.True(t, UserSendAllowed("chatty"), "send %d", i+1)
	}
	assert.False(t, UserSendAllowed("chatty"))
	assert.True(t, UserSendAllowed("quiet"), "budgets are per user")

	ttl := mr.TTL("rate_limit:send:chatty")
	assert.True(t, ttl > 0 && ttl <= userSendWindow)

	mr.FastForward(userSendWindow + time.Second)
	assert.True(t, UserSendAllowed("chatty"), "window expired")
}

func TestUserSendAllowed_FallsBackToLocalLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	database.Redis = client
	t.Cleanup(func() { database.Redis = nil })

	// ChatLimiter allows a burst of 10 per key before throttling
	allowed := 0
	for i := 0; i < 20; i++ {
		if UserSendAllowed("offline-redis") {
			allowed++
		}
	}
	assert.InDelta(t, 10, allowed, 1)
}
