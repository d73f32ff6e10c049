package utils

import "github.com/gin-gonic/gin"

// envelope is the JSON shape every handler in internal/httpapi responds
// with, success or failure.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// SuccessResponse writes a successful JSON envelope.
func SuccessResponse(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse writes a failed JSON envelope with a single message.
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, envelope{
		Success: false,
		Message: message,
	})
}

// ErrorResponseWithDetail writes a failed JSON envelope with structured
// per-field error detail. No handler calls it at present; the
// submit-batch endpoint reports its per-index errors through
// SuccessResponse.
func ErrorResponseWithDetail(c *gin.Context, status int, message string, errors interface{}) {
	c.JSON(status, envelope{
		Success: false,
		Message: message,
		Errors:  errors,
	})
}
