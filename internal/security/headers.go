// Package security provides HTTP hardening middleware for the ops server.
package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// contentSecurityPolicy allows nothing: ops endpoints serve only JSON and
// Prometheus text, never documents.
const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// Health and metrics must always reflect the live state.
		if strings.HasPrefix(c.Request.URL.Path, "/health") || c.Request.URL.Path == "/metrics" {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// MethodGuard rejects anything but GET and HEAD with 405.
func MethodGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case "GET", "HEAD":
			c.Next()
		default:
			c.Header("Allow", "GET, HEAD")
			c.AbortWithStatusJSON(405, gin.H{
				"error":   "method_not_allowed",
				"message": "ops endpoints are read-only",
			})
		}
	}
}
