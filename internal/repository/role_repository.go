package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"access-service/internal/engine"
	"access-service/internal/models"
)

// RoleRepository handles roles, permissions and delegations
type RoleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByID returns a role with its permissions, or (nil, nil) when none
// exists
func (r *RoleRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	var role models.Role
	err := r.db.WithContext(ctx).
		Preload("Permissions").
		Where("id = ?", id).
		First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}

// ListByTenant returns a tenant's roles ordered by priority
func (r *RoleRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC").
		Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Create persists a new role
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update persists role changes
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	if err := r.db.WithContext(ctx).Save(role).Error; err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// Delete removes a role and its permission grants
func (r *RoleRepository) Delete(ctx context.Context, roleID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return fmt.Errorf("delete role grants: %w", err)
		}
		if err := tx.Where("id = ?", roleID).Delete(&models.Role{}).Error; err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
		return nil
	})
}

// grantConditions is the shape of RolePermission.Conditions
type grantConditions struct {
	OwnOnly bool `json:"own_only"`
}

// RoleGrants resolves a role's permission grants including their
// conditions and scope
func (r *RoleRepository) RoleGrants(ctx context.Context, roleID uuid.UUID) ([]engine.Grant, error) {
	type grantRow struct {
		Resource   string
		Action     string
		Conditions datatypes.JSON
		Scope      datatypes.JSON
	}
	var rows []grantRow
	err := r.db.WithContext(ctx).
		Table("role_permissions").
		Select("permissions.resource, permissions.action, role_permissions.conditions, role_permissions.scope").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ?", roleID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("resolve role grants: %w", err)
	}

	grants := make([]engine.Grant, 0, len(rows))
	for _, row := range rows {
		grant := engine.Grant{
			Resource: row.Resource,
			Action:   row.Action,
		}
		if len(row.Conditions) > 0 {
			var cond grantConditions
			if err := json.Unmarshal(row.Conditions, &cond); err == nil {
				grant.OwnOnly = cond.OwnOnly
			}
		}
		if len(row.Scope) > 0 {
			var scope []string
			if err := json.Unmarshal(row.Scope, &scope); err == nil {
				grant.Scope = scope
			}
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// AddPermission grants a permission to a role with optional conditions
// and scope
func (r *RoleRepository) AddPermission(ctx context.Context, roleID, permissionID uuid.UUID, conditions, scope datatypes.JSON) error {
	rp := models.RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		Conditions:   conditions,
		Scope:        scope,
	}
	if err := r.db.WithContext(ctx).Create(&rp).Error; err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// RemovePermission revokes a permission from a role
func (r *RoleRepository) RemovePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&models.RolePermission{})
	if result.Error != nil {
		return fmt.Errorf("revoke permission: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindPermission returns a permission by resource and action, or
// (nil, nil) when none exists
func (r *RoleRepository) FindPermission(ctx context.Context, resource, action string) (*models.Permission, error) {
	var permission models.Permission
	err := r.db.WithContext(ctx).
		Where("resource = ? AND action = ?", resource, action).
		First(&permission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find permission: %w", err)
	}
	return &permission, nil
}

// ActiveDelegations returns the delegations granting userID extra roles in
// the tenant whose window contains now
func (r *RoleRepository) ActiveDelegations(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]models.PermissionDelegation, error) {
	var delegations []models.PermissionDelegation
	err := r.db.WithContext(ctx).
		Where("delegatee_id = ? AND tenant_id = ?", userID, tenantID).
		Where("starts_at <= ? AND ends_at > ?", now, now).
		Find(&delegations).Error
	if err != nil {
		return nil, fmt.Errorf("find active delegations: %w", err)
	}
	return delegations, nil
}

// CreateDelegation persists a new delegation
func (r *RoleRepository) CreateDelegation(ctx context.Context, delegation *models.PermissionDelegation) error {
	if err := r.db.WithContext(ctx).Create(delegation).Error; err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	return nil
}

// FindDelegation returns a delegation by ID, or (nil, nil) when none exists
func (r *RoleRepository) FindDelegation(ctx context.Context, id uuid.UUID) (*models.PermissionDelegation, error) {
	var delegation models.PermissionDelegation
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&delegation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find delegation: %w", err)
	}
	return &delegation, nil
}

// RevokeDelegation ends a delegation now. The record is kept for audit;
// only its window is closed.
func (r *RoleRepository) RevokeDelegation(ctx context.Context, id uuid.UUID, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.PermissionDelegation{}).
		Where("id = ? AND ends_at > ?", id, now).
		Update("ends_at", now)
	if result.Error != nil {
		return fmt.Errorf("revoke delegation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountActiveDelegations returns how many delegation windows contain now.
// Feeds the active-delegations gauge.
func (r *RoleRepository) CountActiveDelegations(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PermissionDelegation{}).
		Where("starts_at <= ? AND ends_at > ?", now, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active delegations: %w", err)
	}
	return count, nil
}

// DeleteExpiredDelegations removes delegations whose window closed before
// the cutoff. Recent expired delegations are kept so the audit trail can
// still resolve them.
func (r *RoleRepository) DeleteExpiredDelegations(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ends_at < ?", before).
		Delete(&models.PermissionDelegation{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired delegations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SeedPermissions inserts the global permission catalogue, skipping
// entries that already exist
func (r *RoleRepository) SeedPermissions(ctx context.Context) error {
	for name, description := range models.SystemPermissions() {
		resource, action, ok := splitPermissionName(name)
		if !ok {
			continue
		}
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&models.Permission{}).
			Where("resource = ? AND action = ?", resource, action).
			Count(&count).Error; err != nil {
			return fmt.Errorf("seed permissions: %w", err)
		}
		if count > 0 {
			continue
		}
		p := models.Permission{Resource: resource, Action: action, Description: description}
		if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
			return fmt.Errorf("seed permission %s: %w", name, err)
		}
	}
	return nil
}

// SeedSystemRoles creates the non-editable system roles for a tenant
// moving onto the dynamic permission graph. Idempotent per tenant.
func (r *RoleRepository) SeedSystemRoles(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, def := range models.SystemRoles() {
			var count int64
			if err := tx.Model(&models.Role{}).
				Where("tenant_id = ? AND name = ?", tenantID, def.Name).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			role := models.Role{
				TenantID:    tenantID,
				Name:        def.Name,
				Description: def.Description,
				Priority:    def.Priority,
				IsEditable:  false,
				IsSystem:    true,
			}
			if err := tx.Create(&role).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", def.Name, err)
			}

			for _, permName := range def.Permissions {
				resource, action, ok := splitPermissionName(permName)
				if !ok {
					continue
				}
				var permission models.Permission
				err := tx.Where("resource = ? AND action = ?", resource, action).
					First(&permission).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				rp := models.RolePermission{RoleID: role.ID, PermissionID: permission.ID}
				if err := tx.Create(&rp).Error; err != nil {
					return fmt.Errorf("seed role grant %s/%s: %w", def.Name, permName, err)
				}
			}
		}
		return nil
	})
}

func splitPermissionName(name string) (resource, action string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i], name[i+1:], i > 0 && i < len(name)-1
		}
	}
	return "", "", false
}
