package helpers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/apperr"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func RespondWithError(c *gin.Context, statusCode int, customMessage string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: customMessage,
	})
}

// RespondWithAppError translates a domain error into the wire contract.
// Conflict maps to 400, not 409: the public API reports "already registered"
// and "already cancelled" as bad requests.
func RespondWithAppError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict, apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindUnavailable:
		status = http.StatusServiceUnavailable
	default:
		zap.L().Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		RespondWithError(c, status, "Internal server error")
		return
	}
	RespondWithError(c, status, err.Error())
}
