package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses as private to one participant's attempt so no
// proxy or browser cache replays them.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
