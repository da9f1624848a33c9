package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	"github.com/mlandesman/SAMS-sub020/internal/penalty"
)

type listObligationsQuery struct {
	FiscalYear int `form:"fiscal_year"`
}

type obligationResponse struct {
	ID          string `json:"id"`
	FiscalYear  int    `json:"fiscal_year"`
	PeriodIndex int    `json:"period_index"`
	BaseAmount  int64  `json:"base_amount"`
	PaidBase    int64  `json:"paid_base"`
	PaidPenalty int64  `json:"paid_penalty"`
	UnpaidBase  int64  `json:"unpaid_base"`
	PenaltyDue  int64  `json:"penalty_due"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
}

func (s *Server) ListObligations(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	var query listObligationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	outstanding, err := s.obligationSvc.ListOutstanding(ctx, unitID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := time.Now().UTC()
	items := make([]obligationResponse, 0, len(outstanding))
	for _, out := range outstanding {
		if query.FiscalYear != 0 && out.Obligation.FiscalYear != query.FiscalYear {
			continue
		}
		snapshot, err := out.Period.Snapshot()
		if err != nil {
			AbortWithError(c, err)
			return
		}
		penaltyDue, err := penalty.Due(penalty.Obligation{
			BaseAmount:  out.Obligation.BaseAmount,
			PaidBase:    out.Obligation.PaidBase,
			PaidPenalty: out.Obligation.PaidPenalty,
			Start:       out.Period.StartDate,
			DueDate:     out.Period.DueDate,
		}, now, snapshot)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		items = append(items, obligationResponse{
			ID:          out.Obligation.ID.String(),
			FiscalYear:  out.Obligation.FiscalYear,
			PeriodIndex: out.Obligation.PeriodIndex,
			BaseAmount:  out.Obligation.BaseAmount,
			PaidBase:    out.Obligation.PaidBase,
			PaidPenalty: out.Obligation.PaidPenalty,
			UnpaidBase:  out.Obligation.UnpaidBase(),
			PenaltyDue:  penaltyDue,
			Status:      string(out.Obligation.Status),
			DueDate:     out.Period.DueDate.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"obligations": items})
}

type generateBillsRequest struct {
	PeriodIndex int `json:"period_index" binding:"required"`
}

func (s *Server) GenerateBills(c *gin.Context) {
	clientID, ok := parseID(c, "client_id")
	if !ok {
		return
	}
	fiscalYear, ok := parseFiscalYear(c)
	if !ok {
		return
	}

	var req generateBillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.obligationSvc.GenerateBills(c.Request.Context(), obligationdomain.GenerateBillsRequest{
		ClientID:    clientID,
		FiscalYear:  fiscalYear,
		PeriodIndex: req.PeriodIndex,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period_id":    resp.Period.ID.String(),
		"fiscal_year":  resp.Period.FiscalYear,
		"period_index": resp.Period.PeriodIndex,
		"created":      resp.Created,
		"skipped":      resp.Skipped,
	})
}
