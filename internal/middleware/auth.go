package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"wifi-voucher/pkg/errutil"
)

const adminKeyHeader = "X-Admin-Key"

// AdminAuth guards the admin surface with a shared key. The key comes from
// the X-Admin-Key header, falling back to the adminKey query parameter for
// browser use. An empty configured key locks the surface entirely.
func AdminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(adminKeyHeader)
		if presented == "" {
			presented = c.Query("adminKey")
		}

		if apiKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			be := errutil.BaseError{
				Code:    errutil.StatusUnauthorized,
				Message: "invalid admin key",
			}
			c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.Next()
	}
}
