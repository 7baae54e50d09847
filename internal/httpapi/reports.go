package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callsense/internal/rbac"
	"callsense/internal/reporting"
	"callsense/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 7 * 24 * time.Hour

// CallsSummary aggregates the caller's calls over ?from= and ?to= (RFC 3339).
// The window defaults to the last seven days. Admins may pass ?company_id=.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "reporting disabled"})
		return
	}
	companyID, role := identity(c)
	if other := c.Query("company_id"); other != "" && rbac.IsAdmin(role) {
		companyID = other
	}

	to := time.Now().UTC()
	from := to.Add(-defaultReportWindow)
	var err error
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		from = to.Add(-defaultReportWindow)
	}
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		CompanyID: companyID,
		Range:     reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "company_id", companyID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
