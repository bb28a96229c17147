package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wifi-voucher/pkg/errutil"
)

// Error renders the last error attached to the context as the standard error
// envelope. Handlers call c.Error and return; this middleware decides the
// status code and body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal server error",
		}.JSON())
	}
}
