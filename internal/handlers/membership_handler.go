package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"access-service/internal/engine"
	"access-service/internal/middleware"
	"access-service/internal/services"
)

// MembershipHandler exposes membership administration
type MembershipHandler struct {
	memberships *services.MembershipService
	engine      *engine.Engine
}

// NewMembershipHandler creates a membership handler
func NewMembershipHandler(memberships *services.MembershipService, e *engine.Engine) *MembershipHandler {
	return &MembershipHandler{
		memberships: memberships,
		engine:      e,
	}
}

// List handles GET /tenants/:tenantId/members
func (h *MembershipHandler) List(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	principal := middleware.GetPrincipal(c)
	if principal == nil || !h.engine.MemberOf(c.Request.Context(), principal, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Membership required", nil)
		return
	}

	members, err := h.memberships.ListMembers(c.Request.Context(), tenantID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list members", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Members", members)
}

type inviteRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Role   string    `json:"role"`
}

// Invite handles POST /tenants/:tenantId/members
func (h *MembershipHandler) Invite(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	actor := middleware.GetPrincipal(c)
	if actor == nil || !h.engine.AdminOf(c.Request.Context(), actor, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Admin authority required", nil)
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid invite request", err)
		return
	}

	membership, err := h.memberships.InviteMember(c.Request.Context(), actor, tenantID, req.UserID, req.Role)
	if err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "Member invited", membership)
}

type changeRoleRequest struct {
	LegacyRole string     `json:"legacy_role"`
	RoleID     *uuid.UUID `json:"role_id"`
}

// ChangeRole handles PUT /tenants/:tenantId/members/:membershipId/role
func (h *MembershipHandler) ChangeRole(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	membershipID, ok := parseUUIDParam(c, "membershipId")
	if !ok {
		return
	}
	actor := middleware.GetPrincipal(c)
	if actor == nil || !h.engine.AdminOf(c.Request.Context(), actor, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Admin authority required", nil)
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid role change request", err)
		return
	}

	if err := h.memberships.ChangeMemberRole(c.Request.Context(), actor, membershipID, req.LegacyRole, req.RoleID); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Member role changed", nil)
}

// Deactivate handles DELETE /tenants/:tenantId/members/:membershipId
func (h *MembershipHandler) Deactivate(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	membershipID, ok := parseUUIDParam(c, "membershipId")
	if !ok {
		return
	}
	actor := middleware.GetPrincipal(c)
	if actor == nil || !h.engine.AdminOf(c.Request.Context(), actor, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Admin authority required", nil)
		return
	}

	if err := h.memberships.DeactivateMember(c.Request.Context(), actor, membershipID); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Member deactivated", nil)
}

type transferRequest struct {
	NewOwnerID uuid.UUID `json:"new_owner_id" binding:"required"`
}

// TransferOwnership handles POST /tenants/:tenantId/owner/transfer.
// Only the current owner can hand ownership over.
func (h *MembershipHandler) TransferOwnership(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	actor := middleware.GetPrincipal(c)
	if actor == nil || !h.engine.OwnerOf(c.Request.Context(), actor, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Owner authority required", nil)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid transfer request", err)
		return
	}

	if err := h.memberships.TransferOwnership(c.Request.Context(), actor, tenantID, req.NewOwnerID); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Ownership transferred", nil)
}
