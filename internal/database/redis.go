package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis is nil when REDIS_ADDR is not configured
var Redis *redis.Client
var Ctx = context.Background()

func InitRedis() {
	if config.AppConfig.RedisAddr == "" {
		log.Println("REDIS_ADDR not set, Redis-backed features disabled")
		return
	}

	Redis = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	_, err := Redis.Ping(Ctx).Result()
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Shared presence and per-user limits will be unavailable.", err)
	} else {
		log.Println("Connected to Redis successfully")
	}
}

// CheckRateLimit counts a hit for key inside a fixed window and reports whether it is allowed
func CheckRateLimit(client *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	rk := fmt.Sprintf("rate_limit:%s", key)
	count, err := client.Incr(Ctx, rk).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		client.Expire(Ctx, rk, window)
	}

	if count > int64(limit) {
		return false, nil
	}
	return true, nil
}
