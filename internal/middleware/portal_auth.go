package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/veritashealth/invitegate/pkg/errors"
	"github.com/veritashealth/invitegate/pkg/response"
)

// PortalAuth guards doctor-portal endpoints with a shared bearer key. The
// portal itself authenticates doctors; this service only verifies the call
// came from the portal backend.
func PortalAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Abort()
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}

		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			c.Abort()
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}

		c.Next()
	}
}
