package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/dontwaste/surplus_api/internal/cache"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// FeatureGate rejects requests while the named feature is switched off.
func FeatureGate(flags *cache.FeatureFlags, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !flags.Enabled(c.Request.Context(), feature) {
			utils.Error(c, 503, "FEATURE_DISABLED", "This feature is currently disabled")
			c.Abort()
			return
		}
		c.Next()
	}
}
