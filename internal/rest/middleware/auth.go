package middleware

import (
	"net/http"
	"strings"

	"github.com/eka-ai/billing/internal/auth"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// AuthenticateMiddleware authenticates requests bearing a JWT in the
// Authorization header and sets the user ID in the request context for
// downstream handlers.
func AuthenticateMiddleware(tokens *auth.TokenService, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(types.HeaderAuthorization)
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			logger.Debugw("failed to validate token", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		ctx := types.SetUserID(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
