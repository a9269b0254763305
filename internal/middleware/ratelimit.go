package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/metrics"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages rate limiters per key, usually the client IP
type IPRateLimiter struct {
	ips   map[string]*rateLimiterEntry
	mu    sync.RWMutex
	r     rate.Limit
	burst int
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter
// r = requests per second, burst = max burst size
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		ips:   make(map[string]*rateLimiterEntry),
		r:     r,
		burst: burst,
	}

	// Cleanup old entries every minute
	go rl.cleanup()

	return rl
}

func (rl *IPRateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, entry := range rl.ips {
			if time.Since(entry.lastSeen) > 3*time.Minute {
				delete(rl.ips, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// GetLimiter returns the rate limiter for the given IP
func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.ips[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.r, rl.burst)
		rl.ips[ip] = &rateLimiterEntry{
			limiter:  limiter,
			lastSeen: time.Now(),
		}
		return limiter
	}

	entry.lastSeen = time.Now()
	return entry.limiter
}

// Pre-configured rate limiters for different endpoints
var (
	// General API: 600 requests per minute (10/sec)
	GeneralLimiter = NewIPRateLimiter(rate.Limit(10.0), 50)

	// Chat messages: 30 per minute (prevents spam, allows normal conversation)
	ChatLimiter = NewIPRateLimiter(rate.Limit(30.0/60.0), 10)

	// Attachments: 10 per minute
	UploadLimiter = NewIPRateLimiter(rate.Limit(10.0/60.0), 3)
)

// Per-user send budget shared by all instances when Redis is available
const (
	userSendLimit  = 30
	userSendWindow = time.Minute
)

// RateLimitMiddleware creates a rate limiting middleware with a custom limiter
func RateLimitMiddleware(name string, limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		l := limiter.GetLimiter(ip)

		if !l.Allow() {
			metrics.RateLimitHits.WithLabelValues(name).Inc()
			logger.Warn().
				Str("ip", ip).
				Str("limiter", name).
				Str("path", c.Request.URL.Path).
				Msg("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"message": "Rate limit exceeded. Please slow down.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GeneralRateLimit is for general API endpoints
func GeneralRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware("general", GeneralLimiter)
}

// ChatRateLimit is for chat write endpoints
func ChatRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware("chat", ChatLimiter)
}

// UploadRateLimit is for attachment uploads
func UploadRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware("upload", UploadLimiter)
}

// UserSendAllowed throttles realtime sends per user. With Redis the window is
// shared across instances; without it each process keeps its own token bucket.
func UserSendAllowed(userID string) bool {
	if database.Redis != nil {
		allowed, err := database.CheckRateLimit(database.Redis, "send:"+userID, userSendLimit, userSendWindow)
		if err == nil {
			return allowed
		}
		logger.Warn().Err(err).Str("user_id", userID).Msg("Redis rate limit check failed, using local limiter")
	}
	return ChatLimiter.GetLimiter("user:" + userID).Allow()
}
