// Bearer token authentication for the management API.
// When no secret is configured the API runs open; intended for development
// and single-operator deployments behind the network allow list.
package routes

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/token"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.Cfg.Secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := token.VerifyAPIToken(raw)
		if err != nil {
			slog.Warn("AuthMiddleware: Rejected API token", "error", err)
			AbortWithError(c, token.ErrNonValidToken)
			return
		}

		c.Set("operator", claims.Operator)
		c.Next()
	}
}
