package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"callsense/internal/audit"
	"callsense/internal/auth"
	"callsense/internal/calls"
	"callsense/internal/rbac"
	"callsense/internal/reporting"
	"callsense/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Notifier wakes the worker for a record that just became pending.
type Notifier interface {
	Notify(ctx context.Context, id string) error
}

// Handlers groups the read API and admin handlers. Keep them thin: parse input,
// delegate to internal packages, return JSON.
type Handlers struct {
	Calls    calls.Store
	Audit    *audit.Service
	Notifier Notifier
	Reports  *reporting.Service
	// Ready reports whether backing services are reachable.
	Ready func(ctx context.Context) error
}

type listResponse struct {
	Calls []calls.CallRecord `json:"calls"`
	Count int                `json:"count"`
}

// ListCalls returns the caller's calls newest first. ?status= narrows to one status
// and ?limit= caps the page.
func (h Handlers) ListCalls(c *gin.Context) {
	companyID, role := identity(c)

	var status calls.Status
	if raw := c.Query("status"); raw != "" {
		status = calls.Status(raw)
		if !status.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	all, err := h.Calls.ListAll(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	out := make([]calls.CallRecord, 0, len(all))
	for _, rec := range all {
		if !visible(rec, companyID, role) {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, listResponse{Calls: out, Count: len(out)})
}

func (h Handlers) GetCall(c *gin.Context) {
	companyID, role := identity(c)

	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && !visible(rec, companyID, role)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("get call failed", "call_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RequeueCall moves a failed call back to pending. Repeating it is a no-op success.
// RBAC: admin.
func (h Handlers) RequeueCall(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromGin(c)
	id := c.Param("id")

	rec, moved, err := calls.Requeue(ctx, h.Calls, id)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, calls.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call is " + string(rec.Status) + "; only failed calls can be re-enqueued"})
		return
	case err != nil:
		log.Error("requeue failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "requeue failed"})
		return
	}

	if moved {
		userID, _ := auth.UserID(ctx)
		role, _ := auth.Role(ctx)
		actor := audit.Actor{UserID: userID, Role: role, IP: c.ClientIP()}
		if err := h.Audit.LogRequeue(ctx, rec.CompanyID, rec.ID, string(calls.StatusError), actor); err != nil {
			log.Warn("audit requeue failed", "call_id", rec.ID, "err", err)
		}
		if h.Notifier != nil {
			if err := h.Notifier.Notify(ctx, rec.ID); err != nil {
				log.Warn("worker notify failed; polling will pick it up", "call_id", rec.ID, "err", err)
			}
		}
		log.Info("call re-enqueued", "call_id", rec.ID, "actor", userID)
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) Health(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func identity(c *gin.Context) (companyID, role string) {
	companyID, _ = auth.CompanyID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return companyID, role
}

// visible scopes reads to the caller's company; admins see every company.
func visible(rec calls.CallRecord, companyID, role string) bool {
	return rbac.IsAdmin(role) || rec.CompanyID == companyID
}

// RequireCompanyAndAnyRole bundles the middleware every /v1 group uses.
func RequireCompanyAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireCompany(), rbac.RequireAnyRole(roles...)}
}
