// Package response writes the JSON envelope shared by every API route.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the success envelope.
type APIResponse struct {
	Data    any    `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`
}

// APIError is the error envelope.
type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Path    string `json:"path"`
	Status  int    `json:"status"`
	Data    any    `json:"data,omitempty"`
}

func pathOf(c echo.Context) string {
	if c == nil || c.Request() == nil {
		return ""
	}
	return c.Request().URL.Path
}

func write(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, APIResponse{Data: data, Status: status, Message: message, Path: pathOf(c)})
}

func OK(c echo.Context, data any, message string) error {
	return write(c, http.StatusOK, data, message)
}

func Created(c echo.Context, data any, message string) error {
	return write(c, http.StatusCreated, data, message)
}

// Accepted is used when work continues after the response, e.g. a batch that
// was cancelled or stream ingestion.
func Accepted(c echo.Context, data any, message string) error {
	return write(c, http.StatusAccepted, data, message)
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, message string, err error) error {
	return ErrorWithData(c, status, message, err, nil)
}

// ErrorWithData sends an error response that also carries a partial result.
func ErrorWithData(c echo.Context, status int, message string, err error, data any) error {
	detail := http.StatusText(status)
	if err != nil {
		detail = err.Error()
	}
	return c.JSON(status, APIError{Message: message, Error: detail, Path: pathOf(c), Status: status, Data: data})
}

func BadRequest(c echo.Context, message string, err error) error {
	return Error(c, http.StatusBadRequest, message, err)
}

func NotFound(c echo.Context, message string, err error) error {
	return Error(c, http.StatusNotFound, message, err)
}

func Unprocessable(c echo.Context, message string, err error) error {
	return Error(c, http.StatusUnprocessableEntity, message, err)
}

func InternalError(c echo.Context, message string, err error) error {
	return Error(c, http.StatusInternalServerError, message, err)
}

func ServiceUnavailable(c echo.Context, message string, err error) error {
	return Error(c, http.StatusServiceUnavailable, message, err)
}
