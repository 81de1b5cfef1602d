package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-service/internal/audit"
	"access-service/internal/models"
)

// MembershipStore is the persistence surface the membership service needs
type MembershipStore interface {
	ActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Membership, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Membership, error)
	Create(ctx context.Context, membership *models.Membership) error
	UpdateRole(ctx context.Context, membershipID uuid.UUID, legacyRole string, roleID *uuid.UUID) error
	Deactivate(ctx context.Context, membershipID uuid.UUID) error
	TransferOwnership(ctx context.Context, tenantID, newOwnerID uuid.UUID) ([]uuid.UUID, error)
}

// RoleFinder resolves the dynamic role behind a membership binding
type RoleFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
}

// GrantInvalidator drops cached grants after membership changes
type GrantInvalidator interface {
	InvalidateGrants(ctx context.Context, tenantID, userID uuid.UUID)
}

// AuditRecorder records membership-related security events
type AuditRecorder interface {
	LogEvent(ctx context.Context, eventType models.SecurityEventType, fields audit.EventFields) *models.SecurityEvent
}

// MembershipService manages tenant memberships: invitations, role changes,
// deactivation and ownership transfer. Every mutation invalidates the
// affected principal's cached grants and leaves an audit trail.
type MembershipService struct {
	memberships MembershipStore
	roles       RoleFinder
	invalidator GrantInvalidator
	audit       AuditRecorder
	logger      *logrus.Logger
}

// NewMembershipService creates a membership service
func NewMembershipService(memberships MembershipStore, roles RoleFinder, invalidator GrantInvalidator, auditor AuditRecorder, logger *logrus.Logger) *MembershipService {
	return &MembershipService{
		memberships: memberships,
		roles:       roles,
		invalidator: invalidator,
		audit:       auditor,
		logger:      logger,
	}
}

// InviteMember creates an active membership for a user. New members start
// on a legacy role; moving them to a dynamic role is a separate change.
func (s *MembershipService) InviteMember(ctx context.Context, actor *models.User, tenantID, userID uuid.UUID, legacyRole string) (*models.Membership, error) {
	if legacyRole == "" {
		legacyRole = models.RoleMember
	}
	if !legacyRoleNames[legacyRole] {
		return nil, ErrInvalidRole
	}
	// Owner is assigned through TransferOwnership, never by invitation
	if legacyRole == models.RoleOwner {
		return nil, ErrInvalidRole
	}

	existing, err := s.memberships.ActiveMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateMembership
	}

	membership := &models.Membership{
		UserID:     userID,
		TenantID:   tenantID,
		LegacyRole: legacyRole,
		IsActive:   true,
	}
	if err := s.memberships.Create(ctx, membership); err != nil {
		return nil, err
	}

	s.auditChange(ctx, models.EventAdminAction, actor, tenantID, map[string]interface{}{
		"operation":   "member_invited",
		"member_id":   userID.String(),
		"legacy_role": legacyRole,
	})
	return membership, nil
}

// ChangeMemberRole rebinds a membership to a legacy role name or a dynamic
// role. Exactly one of legacyRole and roleID must be given.
func (s *MembershipService) ChangeMemberRole(ctx context.Context, actor *models.User, membershipID uuid.UUID, legacyRole string, roleID *uuid.UUID) error {
	if (legacyRole == "") == (roleID == nil) {
		return ErrInvalidRole
	}
	if legacyRole != "" && !legacyRoleNames[legacyRole] {
		return ErrInvalidRole
	}
	if legacyRole == models.RoleOwner {
		return ErrInvalidRole
	}

	membership, err := s.memberships.FindByID(ctx, membershipID)
	if err != nil {
		return err
	}
	if membership == nil {
		return ErrNotFound
	}
	// The owner's membership only changes through ownership transfer
	if membership.IsOwnerLevel() {
		return ErrForbidden
	}
	if roleID != nil {
		role, err := s.roles.FindByID(ctx, *roleID)
		if err != nil {
			return err
		}
		// The role must belong to the membership's tenant
		if role == nil || role.TenantID != membership.TenantID {
			return ErrInvalidRole
		}
		// Owner authority only moves through ownership transfer; an
		// owner-priority role binding would mint a second owner
		if role.IsOwnerLevel() {
			return ErrInvalidRole
		}
	}

	if err := s.memberships.UpdateRole(ctx, membershipID, legacyRole, roleID); err != nil {
		return err
	}

	s.invalidator.InvalidateGrants(ctx, membership.TenantID, membership.UserID)
	details := map[string]interface{}{
		"operation":     "role_changed",
		"membership_id": membershipID.String(),
		"member_id":     membership.UserID.String(),
	}
	if legacyRole != "" {
		details["legacy_role"] = legacyRole
	}
	if roleID != nil {
		details["role_id"] = roleID.String()
	}
	s.auditChange(ctx, models.EventPermissionChange, actor, membership.TenantID, details)
	return nil
}

// DeactivateMember disables a membership. The record survives for audit
// and potential reactivation.
func (s *MembershipService) DeactivateMember(ctx context.Context, actor *models.User, membershipID uuid.UUID) error {
	membership, err := s.memberships.FindByID(ctx, membershipID)
	if err != nil {
		return err
	}
	if membership == nil {
		return ErrNotFound
	}
	if membership.IsOwnerLevel() {
		// Transfer ownership first, then deactivate
		return ErrForbidden
	}

	if err := s.memberships.Deactivate(ctx, membershipID); err != nil {
		return err
	}

	s.invalidator.InvalidateGrants(ctx, membership.TenantID, membership.UserID)
	s.auditChange(ctx, models.EventAdminAction, actor, membership.TenantID, map[string]interface{}{
		"operation":     "member_deactivated",
		"membership_id": membershipID.String(),
		"member_id":     membership.UserID.String(),
	})
	return nil
}

// TransferOwnership makes newOwnerID the tenant's owner, demoting the
// previous owner to admin in the same transaction so the tenant always has
// exactly one owner
func (s *MembershipService) TransferOwnership(ctx context.Context, actor *models.User, tenantID, newOwnerID uuid.UUID) error {
	affected, err := s.memberships.TransferOwnership(ctx, tenantID, newOwnerID)
	if err != nil {
		return fmt.Errorf("ownership transfer: %w", err)
	}

	for _, userID := range affected {
		s.invalidator.InvalidateGrants(ctx, tenantID, userID)
	}
	s.auditChange(ctx, models.EventPermissionChange, actor, tenantID, map[string]interface{}{
		"operation":    "ownership_transferred",
		"new_owner_id": newOwnerID.String(),
	})
	return nil
}

// ListMembers returns a tenant's memberships
func (s *MembershipService) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]models.Membership, error) {
	return s.memberships.ListByTenant(ctx, tenantID)
}

func (s *MembershipService) auditChange(ctx context.Context, eventType models.SecurityEventType, actor *models.User, tenantID uuid.UUID, details map[string]interface{}) {
	fields := audit.EventFields{
		TenantID: &tenantID,
		Resource: models.ResourceMembership,
		Details:  details,
	}
	if actor != nil {
		fields.UserID = &actor.ID
		fields.Email = actor.Email
	}
	s.audit.LogEvent(ctx, eventType, fields)
}
