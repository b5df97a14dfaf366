package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/pkg/apperr"
)

// AbortWithError maps an apperr.AppError (or any error) to spec.md §7's
// HTTP boundary shape and stops the handler chain. Any error that isn't
// already an *apperr.AppError is treated as an opaque Internal failure so
// its detail is never leaked to the client.
func AbortWithError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.InternalWithCause("unhandled error", err)
	}

	if appErr.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus(), gin.H{"error": appErr.ExternalMessage()})
}
