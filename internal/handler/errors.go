package handler

import (
	"errors"
	"net/http"

	"backoffice/internal/lock"
	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidProduct),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidType),
		errors.Is(err, service.ErrNoValidItems),
		errors.Is(err, service.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrAlreadyOpen),
		errors.Is(err, service.ErrNoOpenSession),
		errors.Is(err, lock.ErrNotObtained):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope. Server side failures are attached to the
// context so the request logger reports them.
func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, response.Error(code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}
