package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"access-service/internal/engine"
	"access-service/internal/middleware"
	"access-service/internal/tenantctx"
)

// AccessHandler exposes the tenant context snapshot and permission checks
type AccessHandler struct {
	engine *engine.Engine
}

// NewAccessHandler creates an access handler
func NewAccessHandler(e *engine.Engine) *AccessHandler {
	return &AccessHandler{engine: e}
}

// Context handles GET /context: a read-only snapshot of the request's
// tenant binding for debugging and UI
func (h *AccessHandler) Context(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "Tenant context", tenantctx.GetSnapshot(c.Request.Context()))
}

// accessCheckRequest is the body of POST /access/check
type accessCheckRequest struct {
	Action       string      `json:"action" binding:"required"`
	ResourceType string      `json:"resource_type" binding:"required"`
	ResourceID   *uuid.UUID  `json:"resource_id"`
	TenantID     *uuid.UUID  `json:"tenant_id"`
	CreatedBy    *uuid.UUID  `json:"created_by"`
	AssignedTo   []uuid.UUID `json:"assigned_to"`
	TargetRole   string      `json:"target_role"`
}

// Check handles POST /access/check: evaluates whether the calling
// principal may perform an action on a resource. Guests are allowed to
// call it; they just mostly get "denied".
func (h *AccessHandler) Check(c *gin.Context) {
	var req accessCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid access check request", err)
		return
	}

	res := &engine.Resource{
		Type:       req.ResourceType,
		AssignedTo: req.AssignedTo,
		TargetRole: req.TargetRole,
	}
	if req.ResourceID != nil {
		res.ID = *req.ResourceID
	}
	if req.TenantID != nil {
		res.TenantID = *req.TenantID
	} else if id, ok := tenantctx.CurrentID(c.Request.Context()); ok {
		res.TenantID = id
	}
	if req.CreatedBy != nil {
		res.CreatedBy = *req.CreatedBy
	}

	principal := middleware.GetPrincipal(c)
	allowed, err := h.engine.Can(c.Request.Context(), principal, req.Action, res)
	if err != nil {
		if errors.Is(err, engine.ErrNilResource) {
			ErrorResponse(c, http.StatusBadRequest, "Invalid access check request", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Access check failed", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Access check evaluated", gin.H{
		"allowed":       allowed,
		"action":        req.Action,
		"resource_type": req.ResourceType,
	})
}
