package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/presence"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterSystemRoutes mounts health and metrics endpoints
func RegisterSystemRoutes(r gin.IRouter, tracker presence.Tracker) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		if database.Redis != nil {
			if _, err := database.Redis.Ping(ctx).Result(); err != nil {
				redisStatus = "error"
			}
		} else {
			redisStatus = "not configured"
		}

		online := -1
		if tracker != nil {
			if users, err := tracker.Online(ctx); err == nil {
				online = len(users)
			}
		}

		status := "ok"
		code := http.StatusOK
		if dbStatus != "ok" || redisStatus == "error" {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status": status,
			"checks": gin.H{
				"database": dbStatus,
				"redis":    redisStatus,
			},
			"onlineUsers": online,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
