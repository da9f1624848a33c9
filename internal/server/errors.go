package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	allocationpkg "github.com/mlandesman/SAMS-sub020/internal/allocation"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	journaldomain "github.com/mlandesman/SAMS-sub020/internal/journal/domain"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	paymentdomain "github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	"github.com/mlandesman/SAMS-sub020/internal/penalty"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredit):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_credit",
			Message: "insufficient credit balance",
		}
	case errors.Is(err, paymentdomain.ErrConcurrencyConflict):
		return http.StatusConflict, errorPayload{
			Type:    "concurrency_conflict",
			Message: "concurrent update, try again",
		}
	case isNotFound(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, crossrefdomain.ErrIntegrityViolation),
		errors.Is(err, creditdomain.ErrBalanceIntegrity):
		return http.StatusInternalServerError, errorPayload{
			Type:    "integrity_violation",
			Message: "data integrity violation",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, clientdomain.ErrInvalidClient),
		errors.Is(err, clientdomain.ErrInvalidUnit),
		errors.Is(err, clientdomain.ErrInvalidCalendar),
		errors.Is(err, obligationdomain.ErrInvalidClient),
		errors.Is(err, obligationdomain.ErrInvalidUnit),
		errors.Is(err, obligationdomain.ErrInvalidPeriod),
		errors.Is(err, creditdomain.ErrInvalidUnit),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidEntryType),
		errors.Is(err, paymentdomain.ErrInvalidUnit),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, yearviewdomain.ErrInvalidClient),
		errors.Is(err, yearviewdomain.ErrInvalidYear),
		errors.Is(err, crossrefdomain.ErrInvalidRef),
		errors.Is(err, allocationpkg.ErrInvalidAmount),
		errors.Is(err, allocationpkg.ErrInvalidOrder),
		errors.Is(err, penalty.ErrNegativeBase),
		errors.Is(err, penalty.ErrMissingDue),
		errors.Is(err, penalty.ErrNegativeRate),
		errors.Is(err, penalty.ErrBeforeBilling),
		errors.Is(err, rateconfigdomain.ErrNoRateConfig),
		errors.Is(err, rateconfigdomain.ErrInvalidPenaltyRate),
		errors.Is(err, rateconfigdomain.ErrInvalidUnitRate):
		return true
	}
	return false
}

func isNotFound(err error) bool {
	switch {
	case errors.Is(err, clientdomain.ErrNotFound),
		errors.Is(err, clientdomain.ErrUnitNotFound),
		errors.Is(err, obligationdomain.ErrPeriodNotFound),
		errors.Is(err, obligationdomain.ErrObligationNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, journaldomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	}
	return false
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	}
	return "", payload.Type
}
