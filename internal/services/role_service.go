package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"access-service/internal/audit"
	"access-service/internal/models"
)

// RoleStore is the persistence surface the role service needs
type RoleStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, roleID uuid.UUID) error
	AddPermission(ctx context.Context, roleID, permissionID uuid.UUID, conditions, scope datatypes.JSON) error
	RemovePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	FindPermission(ctx context.Context, resource, action string) (*models.Permission, error)
	CreateDelegation(ctx context.Context, delegation *models.PermissionDelegation) error
	FindDelegation(ctx context.Context, id uuid.UUID) (*models.PermissionDelegation, error)
	RevokeDelegation(ctx context.Context, id uuid.UUID, now time.Time) error
	SeedSystemRoles(ctx context.Context, tenantID uuid.UUID) error
}

// RoleMembershipStore resolves which principals a role change affects and
// whether a delegation target belongs to the tenant
type RoleMembershipStore interface {
	ListUserIDsByRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
	ActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
}

// RoleService manages dynamic roles, their grants and delegations. System
// roles are protected: they can be neither edited nor deleted. Grant and
// delegation changes invalidate the cached grants of every affected
// principal.
type RoleService struct {
	roles       RoleStore
	memberships RoleMembershipStore
	invalidator GrantInvalidator
	audit       AuditRecorder
	logger      *logrus.Logger
	now         func() time.Time
}

// NewRoleService creates a role service
func NewRoleService(roles RoleStore, memberships RoleMembershipStore, invalidator GrantInvalidator, auditor AuditRecorder, logger *logrus.Logger) *RoleService {
	return &RoleService{
		roles:       roles,
		memberships: memberships,
		invalidator: invalidator,
		audit:       auditor,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateRole creates a custom tenant role. Custom roles cannot reach
// owner-level priority; ownership only moves via membership transfer.
func (s *RoleService) CreateRole(ctx context.Context, actor *models.User, tenantID uuid.UUID, name, description string, priority int) (*models.Role, error) {
	if name == "" || priority < 0 || priority >= models.PriorityOwnerLevel {
		return nil, ErrInvalidRole
	}

	role := &models.Role{
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		Priority:    priority,
		IsEditable:  true,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}

	s.auditRoleChange(ctx, actor, tenantID, map[string]interface{}{
		"operation": "role_created",
		"role_id":   role.ID.String(),
		"role_name": name,
	})
	return role, nil
}

// UpdateRole changes a custom role's metadata
func (s *RoleService) UpdateRole(ctx context.Context, actor *models.User, roleID uuid.UUID, name, description string, priority int) error {
	role, err := s.loadEditableRole(ctx, roleID)
	if err != nil {
		return err
	}
	if name == "" || priority < 0 || priority >= models.PriorityOwnerLevel {
		return ErrInvalidRole
	}

	role.Name = name
	role.Description = description
	role.Priority = priority
	if err := s.roles.Update(ctx, role); err != nil {
		return err
	}

	s.invalidateRoleHolders(ctx, role)
	s.auditRoleChange(ctx, actor, role.TenantID, map[string]interface{}{
		"operation": "role_updated",
		"role_id":   roleID.String(),
	})
	return nil
}

// DeleteRole removes a custom role and its grants
func (s *RoleService) DeleteRole(ctx context.Context, actor *models.User, roleID uuid.UUID) error {
	role, err := s.loadEditableRole(ctx, roleID)
	if err != nil {
		return err
	}

	// Capture holders before the role disappears
	s.invalidateRoleHolders(ctx, role)

	if err := s.roles.Delete(ctx, roleID); err != nil {
		return err
	}

	s.auditRoleChange(ctx, actor, role.TenantID, map[string]interface{}{
		"operation": "role_deleted",
		"role_id":   roleID.String(),
		"role_name": role.Name,
	})
	return nil
}

// GrantPermission adds a permission to a role, optionally conditioned
// ("own_only") or scoped to specific resource IDs
func (s *RoleService) GrantPermission(ctx context.Context, actor *models.User, roleID uuid.UUID, resource, action string, conditions, scope datatypes.JSON) error {
	role, err := s.loadEditableRole(ctx, roleID)
	if err != nil {
		return err
	}

	permission, err := s.roles.FindPermission(ctx, resource, action)
	if err != nil {
		return err
	}
	if permission == nil {
		return ErrNotFound
	}

	if err := s.roles.AddPermission(ctx, roleID, permission.ID, conditions, scope); err != nil {
		return err
	}

	s.invalidateRoleHolders(ctx, role)
	s.auditRoleChange(ctx, actor, role.TenantID, map[string]interface{}{
		"operation":  "permission_granted",
		"role_id":    roleID.String(),
		"permission": permission.Name(),
	})
	return nil
}

// RevokePermission removes a permission from a role
func (s *RoleService) RevokePermission(ctx context.Context, actor *models.User, roleID uuid.UUID, resource, action string) error {
	role, err := s.loadEditableRole(ctx, roleID)
	if err != nil {
		return err
	}

	permission, err := s.roles.FindPermission(ctx, resource, action)
	if err != nil {
		return err
	}
	if permission == nil {
		return ErrNotFound
	}

	if err := s.roles.RemovePermission(ctx, roleID, permission.ID); err != nil {
		return err
	}

	s.invalidateRoleHolders(ctx, role)
	s.auditRoleChange(ctx, actor, role.TenantID, map[string]interface{}{
		"operation":  "permission_revoked",
		"role_id":    roleID.String(),
		"permission": permission.Name(),
	})
	return nil
}

// CreateDelegation grants the delegatee a role's permissions for a bounded
// window
func (s *RoleService) CreateDelegation(ctx context.Context, actor *models.User, tenantID, roleID, delegateeID uuid.UUID, startsAt, endsAt time.Time, reason string) (*models.PermissionDelegation, error) {
	now := s.now()
	if !endsAt.After(startsAt) || !endsAt.After(now) {
		return nil, ErrInvalidWindow
	}
	if actor == nil {
		return nil, ErrForbidden
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil || role.TenantID != tenantID {
		return nil, ErrNotFound
	}

	// Delegations only target existing members of the tenant
	member, err := s.memberships.ActiveMembership(ctx, delegateeID, tenantID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}

	delegation := &models.PermissionDelegation{
		TenantID:    tenantID,
		RoleID:      roleID,
		DelegatorID: actor.ID,
		DelegateeID: delegateeID,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Reason:      reason,
	}
	if err := s.roles.CreateDelegation(ctx, delegation); err != nil {
		return nil, err
	}

	s.invalidator.InvalidateGrants(ctx, tenantID, delegateeID)
	s.auditDelegationChange(ctx, actor, tenantID, map[string]interface{}{
		"operation":     "delegation_created",
		"delegation_id": delegation.ID.String(),
		"delegatee_id":  delegateeID.String(),
		"role_id":       roleID.String(),
		"starts_at":     startsAt.UTC().Format(time.RFC3339),
		"ends_at":       endsAt.UTC().Format(time.RFC3339),
	})
	return delegation, nil
}

// RevokeDelegation closes a delegation's window now. The record is kept
// for the audit trail.
func (s *RoleService) RevokeDelegation(ctx context.Context, actor *models.User, delegationID uuid.UUID) error {
	delegation, err := s.roles.FindDelegation(ctx, delegationID)
	if err != nil {
		return err
	}
	if delegation == nil {
		return ErrNotFound
	}

	if err := s.roles.RevokeDelegation(ctx, delegationID, s.now()); err != nil {
		return err
	}

	s.invalidator.InvalidateGrants(ctx, delegation.TenantID, delegation.DelegateeID)
	s.auditDelegationChange(ctx, actor, delegation.TenantID, map[string]interface{}{
		"operation":     "delegation_revoked",
		"delegation_id": delegationID.String(),
		"delegatee_id":  delegation.DelegateeID.String(),
	})
	return nil
}

// ListRoles returns a tenant's roles
func (s *RoleService) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]models.Role, error) {
	return s.roles.ListByTenant(ctx, tenantID)
}

// EnableDynamicRoles seeds the system roles for a tenant moving off the
// legacy fixed-role table
func (s *RoleService) EnableDynamicRoles(ctx context.Context, actor *models.User, tenantID uuid.UUID) error {
	if err := s.roles.SeedSystemRoles(ctx, tenantID); err != nil {
		return err
	}
	s.auditRoleChange(ctx, actor, tenantID, map[string]interface{}{
		"operation": "dynamic_roles_enabled",
	})
	return nil
}

// loadEditableRole loads a role and rejects edits to system or locked roles
func (s *RoleService) loadEditableRole(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, ErrNotFound
	}
	if role.IsSystem {
		return nil, ErrSystemRole
	}
	if !role.IsEditable {
		return nil, ErrRoleNotEditable
	}
	return role, nil
}

// invalidateRoleHolders drops cached grants for every principal whose
// membership carries the role
func (s *RoleService) invalidateRoleHolders(ctx context.Context, role *models.Role) {
	userIDs, err := s.memberships.ListUserIDsByRole(ctx, role.ID)
	if err != nil {
		s.logger.WithError(err).WithField("role_id", role.ID).Warn("Failed to resolve role holders for invalidation")
		return
	}
	for _, userID := range userIDs {
		s.invalidator.InvalidateGrants(ctx, role.TenantID, userID)
	}
}

func (s *RoleService) auditRoleChange(ctx context.Context, actor *models.User, tenantID uuid.UUID, details map[string]interface{}) {
	s.auditEvent(ctx, models.EventPermissionChange, actor, tenantID, details)
}

func (s *RoleService) auditDelegationChange(ctx context.Context, actor *models.User, tenantID uuid.UUID, details map[string]interface{}) {
	s.auditEvent(ctx, models.EventDelegationChange, actor, tenantID, details)
}

func (s *RoleService) auditEvent(ctx context.Context, eventType models.SecurityEventType, actor *models.User, tenantID uuid.UUID, details map[string]interface{}) {
	fields := audit.EventFields{
		TenantID: &tenantID,
		Resource: models.ResourceRole,
		Details:  details,
	}
	if actor != nil {
		fields.UserID = &actor.ID
		fields.Email = actor.Email
	}
	s.audit.LogEvent(ctx, eventType, fields)
}
