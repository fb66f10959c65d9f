// Package middleware provides HTTP middleware for the ops surface.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/s35241607/ticket-system/internal/pkg/errors"
)

// ErrorHandler captures errors added via c.Error() and writes a consistent
// JSON body. Engine errors are mapped through apperrors.FromDomain.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.FromDomain(c.Errors.Last().Err)
		log := RequestLogger(c.Request.Context())
		fields := []zap.Field{
			zap.String("code", appErr.Code),
			zap.String("message", appErr.Message),
			zap.Int("status", appErr.HTTPStatus),
			zap.Error(appErr.Err),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Error("Unhandled request error", fields...)
		} else {
			log.Warn("Request error", fields...)
		}

		if c.Writer.Written() {
			return
		}
		body := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Params) > 0 {
			body["params"] = appErr.Params
		}
		if len(appErr.FieldErrors) > 0 {
			body["field_errors"] = appErr.FieldErrors
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}
