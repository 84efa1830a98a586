package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/veritashealth/invitegate/pkg/errors"
)

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorBody is the envelope used for all error responses.
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// JSON writes a JSON success response with the payload at the top level.
func JSON(c *gin.Context, statusCode int, payload interface{}) {
	c.JSON(statusCode, payload)
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorBody{
		Error: ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}
