package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the conservative response headers expected of a JSON API.
func SecurityHeaders() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		headers := contextGin.Writer.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "SAMEORIGIN")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cross-Origin-Opener-Policy", "same-origin")
		headers.Set("Cross-Origin-Resource-Policy", "same-origin")
		headers.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'self'; object-src 'none'")
		headers.Set("X-DNS-Prefetch-Control", "off")
		if contextGin.Request.TLS != nil || contextGin.GetHeader("X-Forwarded-Proto") == "https" {
			headers.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}
		contextGin.Next()
	}
}

// HandleHealth reports liveness.
func HandleHealth(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleNotFound answers unknown routes with a JSON body.
func HandleNotFound(contextGin *gin.Context) {
	contextGin.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "Route not found",
	})
}
