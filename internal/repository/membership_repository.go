package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"access-service/internal/models"
)

// ErrNoOwnerCandidate is returned when an ownership transfer targets a
// user with no active membership in the tenant
var ErrNoOwnerCandidate = errors.New("new owner has no active membership in tenant")

// MembershipRepository handles membership persistence
type MembershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// ActiveMembership returns the user's active membership in the tenant with
// its role preloaded, or (nil, nil) when there is none
func (r *MembershipRepository) ActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Preload("RoleRef").
		Where("user_id = ? AND tenant_id = ? AND is_active = ?", userID, tenantID, true).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	return &membership, nil
}

// FindByID returns a membership by ID, or (nil, nil) when none exists
func (r *MembershipRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Preload("RoleRef").
		Where("id = ?", id).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find membership by id: %w", err)
	}
	return &membership, nil
}

// ListByTenant returns all memberships of a tenant with users preloaded
func (r *MembershipRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Membership, error) {
	var memberships []models.Membership
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("RoleRef").
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}

// ListUserIDsByRole returns the users whose active membership carries the
// given dynamic role. Used for cache invalidation when a role's grants
// change.
func (r *MembershipRepository) ListUserIDsByRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("role_id = ? AND is_active = ?", roleID, true).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return ids, nil
}

// Create persists a new membership
func (r *MembershipRepository) Create(ctx context.Context, membership *models.Membership) error {
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// UpdateRole rebinds a membership to a legacy role name or a dynamic role.
// Exactly one of legacyRole/roleID must be set; the other is cleared.
func (r *MembershipRepository) UpdateRole(ctx context.Context, membershipID uuid.UUID, legacyRole string, roleID *uuid.UUID) error {
	updates := map[string]interface{}{
		"legacy_role": legacyRole,
		"role_id":     roleID,
	}
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ?", membershipID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update membership role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Deactivate disables a membership without deleting it
func (r *MembershipRepository) Deactivate(ctx context.Context, membershipID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ?", membershipID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivate membership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransferOwnership makes newOwnerID the tenant's owner in a single
// transaction: every current owner membership is demoted to admin, then
// the new owner's membership is promoted. The tenant never has zero or two
// owners between the two steps.
func (r *MembershipRepository) TransferOwnership(ctx context.Context, tenantID, newOwnerID uuid.UUID) ([]uuid.UUID, error) {
	var affected []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.Membership
		err := tx.Where("user_id = ? AND tenant_id = ? AND is_active = ?", newOwnerID, tenantID, true).
			First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoOwnerCandidate
		}
		if err != nil {
			return err
		}

		// Demote current legacy owners
		var owners []models.Membership
		if err := tx.Where("tenant_id = ? AND legacy_role = ? AND id <> ?", tenantID, models.RoleOwner, target.ID).
			Find(&owners).Error; err != nil {
			return err
		}
		for _, o := range owners {
			if err := tx.Model(&models.Membership{}).
				Where("id = ?", o.ID).
				Update("legacy_role", models.RoleAdmin).Error; err != nil {
				return err
			}
			affected = append(affected, o.UserID)
		}

		// Demote memberships holding an owner-priority dynamic role onto
		// the legacy admin role
		var dynOwners []models.Membership
		if err := tx.
			Joins("JOIN roles ON roles.id = memberships.role_id").
			Where("memberships.tenant_id = ? AND roles.priority >= ? AND memberships.id <> ?", tenantID, models.PriorityOwnerLevel, target.ID).
			Find(&dynOwners).Error; err != nil {
			return err
		}
		for _, o := range dynOwners {
			if err := tx.Model(&models.Membership{}).
				Where("id = ?", o.ID).
				Updates(map[string]interface{}{
					"legacy_role": models.RoleAdmin,
					"role_id":     nil,
				}).Error; err != nil {
				return err
			}
			affected = append(affected, o.UserID)
		}

		// Promote the target onto the legacy owner role
		if err := tx.Model(&models.Membership{}).
			Where("id = ?", target.ID).
			Updates(map[string]interface{}{
				"legacy_role": models.RoleOwner,
				"role_id":     nil,
			}).Error; err != nil {
			return err
		}
		affected = append(affected, target.UserID)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoOwnerCandidate) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer ownership: %w", err)
	}
	return affected, nil
}
