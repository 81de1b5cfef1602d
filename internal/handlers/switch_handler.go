package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"access-service/internal/middleware"
	"access-service/internal/switcher"
	"access-service/internal/tenantctx"
)

// SwitchHandler exposes tenant switching
type SwitchHandler struct {
	switcher *switcher.Switcher
}

// NewSwitchHandler creates a switch handler
func NewSwitchHandler(s *switcher.Switcher) *SwitchHandler {
	return &SwitchHandler{switcher: s}
}

// Available handles GET /tenants/available
func (h *SwitchHandler) Available(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	tenants, err := h.switcher.AvailableTenants(c.Request.Context(), principal)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list tenants", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Available tenants", tenants)
}

type switchRequest struct {
	Slug string `json:"slug" binding:"required"`
}

// Switch handles POST /tenants/switch
func (h *SwitchHandler) Switch(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid switch request", err)
		return
	}

	ctx, tenant, err := h.switcher.SwitchTo(c.Request.Context(), principal, req.Slug, middleware.GetSessionID(c))
	if err != nil {
		switch {
		case errors.Is(err, switcher.ErrTargetNotFound):
			ErrorResponse(c, http.StatusNotFound, "Tenant not found", nil)
		case errors.Is(err, switcher.ErrTargetInactive):
			ErrorResponse(c, http.StatusForbidden, "Tenant is not active", nil)
		case errors.Is(err, switcher.ErrUnauthorizedSwitch):
			ErrorResponse(c, http.StatusForbidden, "Not authorized for tenant", nil)
		case errors.Is(err, switcher.ErrAlreadyCurrent):
			ErrorResponse(c, http.StatusConflict, "Tenant is already current", nil)
		case errors.Is(err, switcher.ErrInvalidTarget):
			ErrorResponse(c, http.StatusBadRequest, "Invalid switch target", nil)
		default:
			ErrorResponse(c, http.StatusInternalServerError, "Tenant switch failed", err)
		}
		return
	}

	c.Request = c.Request.WithContext(ctx)
	SuccessResponse(c, http.StatusOK, "Switched tenant", gin.H{
		"tenant_id": tenant.ID,
		"slug":      tenant.Slug,
		"name":      tenant.Name,
	})
}

// Leave handles POST /tenants/leave
func (h *SwitchHandler) Leave(c *gin.Context) {
	ctx := h.switcher.LeaveCurrent(c.Request.Context(), middleware.GetSessionID(c))
	c.Request = c.Request.WithContext(ctx)
	SuccessResponse(c, http.StatusOK, "Left tenant", tenantctx.GetSnapshot(ctx))
}

// History handles GET /tenants/history
func (h *SwitchHandler) History(c *gin.Context) {
	records, err := h.switcher.History(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to read switch history", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Switch history", records)
}
