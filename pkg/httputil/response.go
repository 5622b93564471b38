package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/quote-api/pkg/errors"
)

// Response is the envelope of every non-2xx API response and of the simple
// acknowledgements.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DataResponse wraps list and lookup payloads
type DataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func NewErrorResponse(message string) *Response {
	return &Response{Success: false, Message: message}
}

// RespondWithData sends a 200 with the payload under "data"
func RespondWithData(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, DataResponse{
		Success: true,
		Data:    data,
	})
}

// RespondWithError maps err to a status code and sends {success:false, message}
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	if appErr, ok := errors.As(err); ok {
		statusCode = appErr.StatusCode()
		message = appErr.Message
	}

	c.JSON(statusCode, NewErrorResponse(message))
}
