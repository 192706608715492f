package middleware

import (
	stderrors "errors"
	"net/http"

	"proctorlink/internal/core/domain"
	"proctorlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			appErr := errors.GetAppError(err)
			if appErr != nil {
				logger.Errorw("application error",
					"code", appErr.Code,
					"message", appErr.Message,
					"status", appErr.HTTPStatus,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
				return
			}

			if code, status, ok := classifyDomainError(err); ok {
				logger.Warnw("domain error",
					"code", code,
					"error", err.Error(),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(status, gin.H{
					"error":   string(code),
					"message": err.Error(),
				})
				return
			}

			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "Internal server error",
			})
		}
	}
}

// classifyDomainError maps the engine's sentinel errors to gateway responses.
func classifyDomainError(err error) (errors.ErrorCode, int, bool) {
	switch {
	case stderrors.Is(err, domain.ErrSessionInvalid):
		return errors.ErrCodeInvalidInput, http.StatusBadRequest, true
	case stderrors.Is(err, domain.ErrSessionNotFound), stderrors.Is(err, domain.ErrTargetNotFound):
		return errors.ErrCodeNotFound, http.StatusNotFound, true
	case stderrors.Is(err, domain.ErrChannelClosed), stderrors.Is(err, domain.ErrAllTransportsFailed):
		return errors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable, true
	}
	return "", 0, false
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
