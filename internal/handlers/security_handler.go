package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"access-service/internal/engine"
	"access-service/internal/middleware"
	"access-service/internal/models"
	"access-service/internal/repository"
)

// SecurityHandler exposes security event queries. All endpoints require
// admin authority in the tenant being queried.
type SecurityHandler struct {
	events *repository.EventRepository
	engine *engine.Engine
}

// NewSecurityHandler creates a security handler
func NewSecurityHandler(events *repository.EventRepository, e *engine.Engine) *SecurityHandler {
	return &SecurityHandler{
		events: events,
		engine: e,
	}
}

// ListEvents handles GET /tenants/:tenantId/security/events
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	if !h.requireAdmin(c, tenantID) {
		return
	}

	query := repository.EventQuery{
		TenantID:  &tenantID,
		EventType: models.SecurityEventType(c.Query("event_type")),
		RiskLevel: models.RiskLevel(c.Query("risk_level")),
		Limit:     queryInt(c, "limit", 100),
	}
	if hours := queryInt(c, "hours", 0); hours > 0 {
		query.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	if query.EventType != "" && !query.EventType.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "Unknown event type", nil)
		return
	}

	events, err := h.events.List(c.Request.Context(), query)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list security events", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Security events", events)
}

// UserEvents handles GET /tenants/:tenantId/security/events/user/:userId
func (h *SecurityHandler) UserEvents(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(c, "userId")
	if !ok {
		return
	}
	if !h.requireAdmin(c, tenantID) {
		return
	}

	events, err := h.events.List(c.Request.Context(), repository.EventQuery{
		TenantID: &tenantID,
		UserID:   &userID,
		Limit:    queryInt(c, "limit", 100),
	})
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list user events", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "User security events", events)
}

// FailedLogins handles GET /tenants/:tenantId/security/failed-logins
func (h *SecurityHandler) FailedLogins(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	if !h.requireAdmin(c, tenantID) {
		return
	}

	hours := queryInt(c, "hours", 24)
	events, err := h.events.FailedLogins(c.Request.Context(), time.Now().Add(-time.Duration(hours)*time.Hour), queryInt(c, "limit", 100))
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list login failures", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Failed logins", events)
}

func (h *SecurityHandler) requireAdmin(c *gin.Context, tenantID uuid.UUID) bool {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
		return false
	}
	if !h.engine.AdminOf(c.Request.Context(), principal, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Admin authority required", nil)
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}
