package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds security headers suited to a JSON and file-download API
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")

		// Nothing served here is meant to run as a page; downloaded files included
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; sandbox")

		// Chat history may contain medical details
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
