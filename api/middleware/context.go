package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/customeros/supportstack/internal/utils"
)

// CustomContextMiddleware carries the agent headers (X-USER-ID, X-USER-NAME, X-USER-EMAIL)
// into the request context
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
