package server

import (
	"errors"
	"net/http"
	"testing"

	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	paymentdomain "github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	"github.com/mlandesman/SAMS-sub020/internal/penalty"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError_Statuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{penalty.ErrNegativeBase, http.StatusBadRequest, "validation_error"},
		{penalty.ErrMissingDue, http.StatusBadRequest, "validation_error"},
		{penalty.ErrNegativeRate, http.StatusBadRequest, "validation_error"},
		{penalty.ErrBeforeBilling, http.StatusBadRequest, "validation_error"},
		{creditdomain.ErrInsufficientCredit, http.StatusUnprocessableEntity, "insufficient_credit"},
		{paymentdomain.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
		{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{crossrefdomain.ErrIntegrityViolation, http.StatusInternalServerError, "integrity_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}
}
