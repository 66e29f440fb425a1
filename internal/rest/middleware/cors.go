package middleware

import (
	"net/http"
	"strings"

	"github.com/eka-ai/billing/internal/types"
	"github.com/gin-gonic/gin"
)

var corsAllowHeaders = strings.Join([]string{
	types.HeaderAuthorization,
	"Content-Type",
	types.HeaderRequestID,
}, ", ")

// CORSMiddleware answers browser preflight and sets cross-origin headers
// for the user-facing endpoints. Webhook deliveries are server-to-server
// and never preflight.
func CORSMiddleware(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", types.HeaderRequestID)
	h.Set("Access-Control-Max-Age", "86400")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}
