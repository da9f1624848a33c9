package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	"github.com/mlandesman/SAMS-sub020/pkg/db/pagination"
)

func (s *Server) GetCreditBalance(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), unitID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unit_id": unitID.String(),
		"balance": balance,
	})
}

type creditHistoryQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type creditEntryResponse struct {
	ID              string `json:"id"`
	Seq             int64  `json:"seq"`
	Amount          int64  `json:"amount"`
	Type            string `json:"type"`
	SourcePaymentID string `json:"source_payment_id,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func (s *Server) GetCreditHistory(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	var query creditHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.History(c.Request.Context(), creditdomain.HistoryRequest{
		Pagination: pagination.Pagination{
			PageToken: query.PageToken,
			PageSize:  query.PageSize,
		},
		UnitID: unitID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries := make([]creditEntryResponse, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		item := creditEntryResponse{
			ID:        entry.ID.String(),
			Seq:       entry.Seq,
			Amount:    entry.Amount,
			Type:      string(entry.Type),
			Notes:     entry.Notes,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.SourcePaymentID != 0 {
			item.SourcePaymentID = entry.SourcePaymentID.String()
		}
		entries = append(entries, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":         entries,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

type adjustCreditRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Type   string `json:"type" binding:"required"`
	Notes  string `json:"notes"`
}

func (s *Server) AdjustCredit(c *gin.Context) {
	unitID, ok := parseID(c, "unit_id")
	if !ok {
		return
	}

	var req adjustCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.creditSvc.Adjust(c.Request.Context(), creditdomain.AdjustRequest{
		UnitID: unitID,
		Amount: req.Amount,
		Type:   creditdomain.EntryType(req.Type),
		Notes:  req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, creditEntryResponse{
		ID:        entry.ID.String(),
		Seq:       entry.Seq,
		Amount:    entry.Amount,
		Type:      string(entry.Type),
		Notes:     entry.Notes,
		CreatedAt: entry.CreatedAt.Format(time.RFC3339),
	})
}
