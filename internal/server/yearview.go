package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GetYearView serves the aggregated year view behind the two-step
// freshness protocol: a matching If-None-Match token short-circuits to
// 304 before any snapshot bytes are read.
func (s *Server) GetYearView(c *gin.Context) {
	clientID, ok := parseID(c, "client_id")
	if !ok {
		return
	}
	fiscalYear, ok := parseFiscalYear(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	if held := c.GetHeader("If-None-Match"); held != "" {
		token, err := s.yearviewSvc.Token(ctx, clientID, fiscalYear)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if token != "" && token == held {
			c.Header("ETag", token)
			c.Status(http.StatusNotModified)
			return
		}
	}

	resp, err := s.yearviewSvc.GetYear(ctx, clientID, fiscalYear)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("ETag", resp.Token)
	c.JSON(http.StatusOK, gin.H{
		"client_id":   resp.View.ClientID,
		"fiscal_year": resp.View.FiscalYear,
		"units":       resp.View.Units,
		"token":       resp.Token,
		"computed_at": resp.ComputedAt.Format(time.RFC3339),
	})
}

func parseFiscalYear(c *gin.Context) (int, bool) {
	fiscalYear, err := strconv.Atoi(c.Param("fiscal_year"))
	if err != nil || fiscalYear <= 0 {
		AbortWithError(c, newValidationError("fiscal_year", "invalid_fiscal_year", "invalid fiscal year"))
		return 0, false
	}
	return fiscalYear, true
}
