package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps the error taxonomy to a status and a stable error code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, common.ErrorPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrorBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, common.ErrorTooManyRequests):
		return http.StatusTooManyRequests, "too_many_requests"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	ctx := c.Request.Context()

	if status >= http.StatusInternalServerError {
		h.log.Error(ctx, "request failed", "method", c.Request.Method, "route", c.FullPath(), "error", err)
		msg = "internal error"
	} else {
		h.log.Info(ctx, "request rejected", "method", c.Request.Method, "route", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: code, Message: msg})
}

// bindJSON decodes the body into v. An oversized body keeps its
// *http.MaxBytesError so it maps to 413.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrorBadRequest, err)
	}
	return nil
}

func errRequired(field string) error {
	return fmt.Errorf("%w: %s is required", common.ErrorBadRequest, field)
}
