package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"access-service/internal/engine"
	"access-service/internal/middleware"
	"access-service/internal/models"
	"access-service/internal/services"
)

// RoleHandler exposes role, permission and delegation administration.
// Every mutation requires admin authority in the target tenant.
type RoleHandler struct {
	roles       *services.RoleService
	memberships *services.MembershipService
	engine      *engine.Engine
}

// NewRoleHandler creates a role handler
func NewRoleHandler(roles *services.RoleService, memberships *services.MembershipService, e *engine.Engine) *RoleHandler {
	return &RoleHandler{
		roles:       roles,
		memberships: memberships,
		engine:      e,
	}
}

// requireAdmin resolves the principal and checks admin authority in the
// tenant. Writes the error response itself and returns nil on failure.
func (h *RoleHandler) requireAdmin(c *gin.Context, tenantID uuid.UUID) *models.User {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
		return nil
	}
	if !h.engine.AdminOf(c.Request.Context(), principal, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Admin authority required", nil)
		return nil
	}
	return principal
}

// ListRoles handles GET /tenants/:tenantId/roles
func (h *RoleHandler) ListRoles(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	principal := middleware.GetPrincipal(c)
	if principal == nil || !h.engine.MemberOf(c.Request.Context(), principal, tenantID) {
		ErrorResponse(c, http.StatusForbidden, "Membership required", nil)
		return
	}

	roles, err := h.roles.ListRoles(c.Request.Context(), tenantID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list roles", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Roles", roles)
}

type createRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// CreateRole handles POST /tenants/:tenantId/roles
func (h *RoleHandler) CreateRole(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid role request", err)
		return
	}

	role, err := h.roles.CreateRole(c.Request.Context(), actor, tenantID, req.Name, req.Description, req.Priority)
	if err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "Role created", role)
}

type updateRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// UpdateRole handles PUT /tenants/:tenantId/roles/:roleId
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	roleID, ok := parseUUIDParam(c, "roleId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid role request", err)
		return
	}

	if err := h.roles.UpdateRole(c.Request.Context(), actor, roleID, req.Name, req.Description, req.Priority); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Role updated", nil)
}

// DeleteRole handles DELETE /tenants/:tenantId/roles/:roleId
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	roleID, ok := parseUUIDParam(c, "roleId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	if err := h.roles.DeleteRole(c.Request.Context(), actor, roleID); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Role deleted", nil)
}

type grantRequest struct {
	Resource string   `json:"resource" binding:"required"`
	Action   string   `json:"action" binding:"required"`
	OwnOnly  bool     `json:"own_only"`
	Scope    []string `json:"scope"`
}

// GrantPermission handles POST /tenants/:tenantId/roles/:roleId/permissions
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	roleID, ok := parseUUIDParam(c, "roleId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid grant request", err)
		return
	}

	conditions, scope, err := encodeGrantOptions(req.OwnOnly, req.Scope)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid grant options", err)
		return
	}

	if err := h.roles.GrantPermission(c.Request.Context(), actor, roleID, req.Resource, req.Action, conditions, scope); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "Permission granted", nil)
}

type revokeRequest struct {
	Resource string `json:"resource" binding:"required"`
	Action   string `json:"action" binding:"required"`
}

// RevokePermission handles DELETE /tenants/:tenantId/roles/:roleId/permissions
func (h *RoleHandler) RevokePermission(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	roleID, ok := parseUUIDParam(c, "roleId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid revoke request", err)
		return
	}

	if err := h.roles.RevokePermission(c.Request.Context(), actor, roleID, req.Resource, req.Action); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Permission revoked", nil)
}

type delegationRequest struct {
	RoleID      uuid.UUID `json:"role_id" binding:"required"`
	DelegateeID uuid.UUID `json:"delegatee_id" binding:"required"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	Reason      string    `json:"reason"`
}

// CreateDelegation handles POST /tenants/:tenantId/delegations
func (h *RoleHandler) CreateDelegation(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	var req delegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid delegation request", err)
		return
	}

	delegation, err := h.roles.CreateDelegation(c.Request.Context(), actor, tenantID, req.RoleID, req.DelegateeID, req.StartsAt, req.EndsAt, req.Reason)
	if err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "Delegation created", delegation)
}

// RevokeDelegation handles DELETE /tenants/:tenantId/delegations/:delegationId
func (h *RoleHandler) RevokeDelegation(c *gin.Context) {
	tenantID, ok := parseUUIDParam(c, "tenantId")
	if !ok {
		return
	}
	delegationID, ok := parseUUIDParam(c, "delegationId")
	if !ok {
		return
	}
	actor := h.requireAdmin(c, tenantID)
	if actor == nil {
		return
	}

	if err := h.roles.RevokeDelegation(c.Request.Context(), actor, delegationID); err != nil {
		writeRoleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Delegation revoked", nil)
}

// writeRoleError maps service errors onto HTTP statuses
func writeRoleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Not found", nil)
	case errors.Is(err, services.ErrSystemRole), errors.Is(err, services.ErrRoleNotEditable), errors.Is(err, services.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, "Operation not permitted", nil)
	case errors.Is(err, services.ErrInvalidRole), errors.Is(err, services.ErrInvalidWindow), errors.Is(err, services.ErrNotMember):
		ErrorResponse(c, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, services.ErrDuplicateMembership):
		ErrorResponse(c, http.StatusConflict, "Already a member", nil)
	default:
		ErrorResponse(c, http.StatusInternalServerError, "Operation failed", err)
	}
}

// encodeGrantOptions builds the conditions and scope JSON for a grant
func encodeGrantOptions(ownOnly bool, scope []string) (datatypes.JSON, datatypes.JSON, error) {
	var conditions, scopeJSON datatypes.JSON
	if ownOnly {
		conditions = datatypes.JSON([]byte(`{"own_only":true}`))
	}
	if len(scope) > 0 {
		data, err := json.Marshal(scope)
		if err != nil {
			return nil, nil, err
		}
		scopeJSON = datatypes.JSON(data)
	}
	return conditions, scopeJSON, nil
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}
