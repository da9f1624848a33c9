package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/mlandesman/SAMS-sub020/internal/payment/domain"
)

type recordPaymentRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Date      string `json:"date"`
	Method    string `json:"method"`
	Reference string `json:"reference"`
}

type allocationResponse struct {
	ObligationID   string `json:"obligation_id"`
	FiscalYear     int    `json:"fiscal_year"`
	PeriodIndex    int    `json:"period_index"`
	BasePortion    int64  `json:"base_portion"`
	PenaltyPortion int64  `json:"penalty_portion"`
}

type paymentResponse struct {
	ID            string               `json:"id"`
	Seq           int64                `json:"seq"`
	Amount        int64                `json:"amount"`
	Date          string               `json:"date"`
	Method        string               `json:"method"`
	Reference     string               `json:"reference"`
	TransactionID string               `json:"transaction_id"`
	CreditDelta   int64                `json:"credit_delta"`
	Allocations   []allocationResponse `json:"allocations"`
	Replayed      bool                 `json:"replayed"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "date must be RFC3339"))
			return
		}
		date = parsed
	}

	resp, err := s.paymentSvc.RecordPayment(c.Request.Context(), paymentdomain.RecordPaymentRequest{
		UnitID:    unitID,
		Amount:    req.Amount,
		Date:      date,
		Method:    req.Method,
		Reference: req.Reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, renderPayment(resp.Payment, resp.Allocations, resp.Replayed))
}

func (s *Server) ListPayments(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	records, err := s.paymentSvc.ListForUnit(c.Request.Context(), unitID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payments := make([]paymentResponse, 0, len(records))
	for _, record := range records {
		payments = append(payments, renderPayment(record, nil, false))
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) ReverseLookup(c *gin.Context) {
	transactionID, ok := parseID(c, "transaction_id")
	if !ok {
		return
	}

	periods, err := s.crossrefSvc.ReverseLookup(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(periods))
	for _, ref := range periods {
		items = append(items, gin.H{
			"unit_id":      ref.UnitID.String(),
			"fiscal_year":  ref.FiscalYear,
			"period_index": ref.PeriodIndex,
		})
	}
	c.JSON(http.StatusOK, gin.H{"periods": items})
}

func renderPayment(record paymentdomain.PaymentRecord, allocations []paymentdomain.PaymentAllocation, replayed bool) paymentResponse {
	resp := paymentResponse{
		ID:            record.ID.String(),
		Seq:           record.Seq,
		Amount:        record.Amount,
		Date:          record.Date.Format(time.RFC3339),
		Method:        record.Method,
		Reference:     record.Reference,
		TransactionID: record.TransactionID.String(),
		CreditDelta:   record.CreditDelta,
		Allocations:   make([]allocationResponse, 0, len(allocations)),
		Replayed:      replayed,
	}
	for _, alloc := range allocations {
		resp.Allocations = append(resp.Allocations, allocationResponse{
			ObligationID:   alloc.ObligationID.String(),
			FiscalYear:     alloc.FiscalYear,
			PeriodIndex:    alloc.PeriodIndex,
			BasePortion:    alloc.BasePortion,
			PenaltyPortion: alloc.PenaltyPortion,
		})
	}
	return resp
}
