package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKey gates /api routes behind a shared secret presented in the
// x-api-key header. An empty key disables the check; OPTIONS preflights
// always pass so CORS keeps working.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		got := c.GetHeader("x-api-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
