package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/utils"
	"github.com/mautops/branch-ops/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 处理 handler 通过 c.Error 记录的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// HandleError 把领域错误映射为 HTTP 响应
func HandleError(c *gin.Context, err error) {
	var (
		apiErr          *APIError
		preconditionErr *workflow.PreconditionError
		transitionErr   *workflow.TransitionError
		permissionErr   *workflow.PermissionError
		conflictErr     *workflow.ConflictError
		configErr       *workflow.ConfigurationError
		validationErr   *utils.ValidationError
	)

	switch {
	case errors.As(err, &apiErr):
		Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
	case errors.As(err, &preconditionErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: preconditionErr.Message,
			Reason:  preconditionErr.Code,
		})
	case errors.As(err, &validationErr):
		Error(c, http.StatusBadRequest, "invalid request", validationErr.Error())
	case errors.As(err, &transitionErr):
		Error(c, http.StatusConflict, "invalid state transition", transitionErr.Error())
	case errors.As(err, &conflictErr):
		Error(c, http.StatusConflict, "conflict", conflictErr.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Error(c, http.StatusConflict, "conflict", "duplicate record")
	case errors.As(err, &permissionErr):
		Error(c, http.StatusForbidden, "forbidden", permissionErr.Error())
	case errors.Is(err, workflow.ErrNotFound):
		Error(c, http.StatusNotFound, "not found", err.Error())
	case errors.As(err, &configErr):
		Error(c, http.StatusUnprocessableEntity, "missing warehouse configuration", configErr.Error())
	case errors.Is(err, service.ErrLockNotObtained):
		Error(c, http.StatusServiceUnavailable, "resource busy, retry later", err.Error())
	default:
		GetLogger().WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.Request.URL.Path,
		}).Error("unhandled error")
		Error(c, http.StatusInternalServerError, "internal server error", "")
	}
}
