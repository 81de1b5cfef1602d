package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"access-service/internal/models"
)

// TenantRepository handles tenant persistence
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindBySlug returns the tenant with the given slug, or (nil, nil) when
// none exists
func (r *TenantRepository) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).
		Where("slug = ?", strings.ToLower(slug)).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant by slug: %w", err)
	}
	return &tenant, nil
}

// FindByID returns the tenant with the given ID, or (nil, nil) when none
// exists
func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant by id: %w", err)
	}
	return &tenant, nil
}

// ListActiveForUser returns active tenants the user has an active
// membership in, sorted by name
func (r *TenantRepository) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.tenant_id = tenants.id").
		Where("memberships.user_id = ? AND memberships.is_active = ?", userID, true).
		Where("tenants.status = ?", models.TenantStatusActive).
		Order("tenants.name ASC").
		Find(&tenants).Error
	if err != nil {
		return nil, fmt.Errorf("list tenants for user: %w", err)
	}
	return tenants, nil
}

// Create persists a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	tenant.Slug = strings.ToLower(tenant.Slug)
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// UpdateStatus changes a tenant's lifecycle status
func (r *TenantRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("update tenant status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
