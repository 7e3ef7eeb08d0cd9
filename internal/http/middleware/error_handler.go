package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// ErrorHandler логирует ошибки, добавленные через c.Error, и отвечает за
// хэндлер, если тот ещё ничего не записал. Внутренние ошибки маскируются.
func ErrorHandler(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		fields := logrus.Fields{
			"path":   c.FullPath(),
			"method": c.Request.Method,
			"code":   apperror.CodeOf(err),
		}
		if userID, ok := c.Get(ContextUserIDKey); ok {
			fields["user_id"] = userID
		}

		switch apperror.CodeOf(err) {
		case "", apperror.ErrCodeInternal, apperror.ErrCodeDatabaseError, apperror.ErrCodeUpstreamFailure:
			log.WithFields(fields).WithError(err).Error("request error")
		default:
			log.WithFields(fields).WithError(err).Debug("request rejected")
		}

		if !c.Writer.Written() {
			response.Error(c, err)
		}
	}
}
