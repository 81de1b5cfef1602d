package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant status values
const (
	TenantStatusActive    = "active"
	TenantStatusInactive  = "inactive"
	TenantStatusSuspended = "suspended"
)

// Pricing tiers
const (
	TierFree       = "free"
	TierTeam       = "team"
	TierEnterprise = "enterprise"
)

// Legacy membership role names. A membership carries either one of these
// or a reference to a dynamic Role, never both.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Role priority thresholds for dynamic roles
const (
	PriorityAdminLevel = 80
	PriorityOwnerLevel = 100
)

// Permission actions
const (
	ActionRead    = "read"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDestroy = "destroy"
	// ActionManage implies every other action on the same resource
	ActionManage = "manage"
	ActionInvite = "invite"
	ActionAssign = "assign"
	ActionExport = "export"
)

// Resource types permissions are declared against
const (
	ResourceOrganization = "organization"
	ResourceTask         = "task"
	ResourceSprint       = "sprint"
	ResourceRoadmap      = "roadmap"
	ResourceMembership   = "membership"
	ResourceRole         = "role"
	ResourceDashboard    = "dashboard"
)

// Permission categories
const (
	CategoryCRUD       = "crud"
	CategoryManagement = "management"
	CategoryCustom     = "custom"
)

// Tenant represents a customer organization reachable under its own subdomain
type Tenant struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Slug        string    `json:"slug" gorm:"type:varchar(63);uniqueIndex;not null"`
	Status      string    `json:"status" gorm:"type:varchar(20);default:'active';index"`
	PricingTier string    `json:"pricing_tier" gorm:"type:varchar(20);default:'free'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Memberships []Membership `json:"memberships,omitempty" gorm:"foreignKey:TenantID"`
}

// IsActive reports whether the tenant may serve requests
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// User is a principal. Authentication happens upstream; this service only
// needs identity and status.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	FirstName string    `json:"first_name" gorm:"type:varchar(100)"`
	LastName  string    `json:"last_name" gorm:"type:varchar(100)"`
	Status    string    `json:"status" gorm:"type:varchar(20);default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Memberships []Membership `json:"memberships,omitempty" gorm:"foreignKey:UserID"`
}

// IsActive reports whether the user account is enabled
func (u *User) IsActive() bool {
	return u.Status == "active"
}

// Membership links a user to a tenant. Exactly one of LegacyRole or RoleID
// is set: tenants either use the fixed four-role table or the dynamic role
// graph, decided per membership.
type Membership struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_tenant"`
	TenantID   uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_tenant;index"`
	LegacyRole string     `json:"legacy_role,omitempty" gorm:"type:varchar(20)"`
	RoleID     *uuid.UUID `json:"role_id,omitempty" gorm:"type:uuid;index"`
	IsActive   bool       `json:"is_active" gorm:"default:true;index"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Tenant  *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
	User    *User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	RoleRef *Role   `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

// UsesLegacyRole reports whether the fixed rule table governs this membership
func (m *Membership) UsesLegacyRole() bool {
	return m.RoleID == nil
}

// RoleFingerprint identifies the membership's role binding for cache keys
func (m *Membership) RoleFingerprint() string {
	if m.RoleID != nil {
		return "role:" + m.RoleID.String()
	}
	return "legacy:" + m.LegacyRole
}

// IsOwnerLevel reports whether the membership carries owner authority
func (m *Membership) IsOwnerLevel() bool {
	if m.UsesLegacyRole() {
		return m.LegacyRole == RoleOwner
	}
	return m.RoleRef != nil && m.RoleRef.Priority >= PriorityOwnerLevel
}

// IsAdminLevel reports whether the membership carries admin authority or above
func (m *Membership) IsAdminLevel() bool {
	if m.UsesLegacyRole() {
		return m.LegacyRole == RoleOwner || m.LegacyRole == RoleAdmin
	}
	return m.RoleRef != nil && m.RoleRef.Priority >= PriorityAdminLevel
}

// Role is a tenant-scoped named permission set for tenants on the dynamic
// permission graph
type Role struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_roles_tenant_name"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_roles_tenant_name"`
	Description string    `json:"description" gorm:"type:text"`
	Priority    int       `json:"priority" gorm:"default:0"`
	IsEditable  bool      `json:"is_editable" gorm:"default:true"`
	IsSystem    bool      `json:"is_system" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions;"`
}

// IsAdminLevel reports whether the role carries admin authority
func (r *Role) IsAdminLevel() bool {
	return r.Priority >= PriorityAdminLevel
}

// IsOwnerLevel reports whether the role carries owner authority
func (r *Role) IsOwnerLevel() bool {
	return r.Priority >= PriorityOwnerLevel
}

// Permission is a global resource/action pair roles can be granted
type Permission struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Resource    string    `json:"resource" gorm:"type:varchar(50);not null;uniqueIndex:idx_permissions_resource_action"`
	Action      string    `json:"action" gorm:"type:varchar(50);not null;uniqueIndex:idx_permissions_resource_action"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the canonical "resource:action" form
func (p *Permission) Name() string {
	return p.Resource + ":" + p.Action
}

// Category classifies the permission by its action
func (p *Permission) Category() string {
	switch p.Action {
	case ActionCreate, ActionRead, ActionUpdate, ActionDestroy:
		return CategoryCRUD
	case ActionManage, ActionInvite, ActionAssign, ActionExport:
		return CategoryManagement
	default:
		return CategoryCustom
	}
}

// RolePermission is the role↔permission join. Conditions and Scope narrow
// the grant: Conditions is a JSON object ({"own_only": true}), Scope an
// optional JSON array of resource IDs the grant is limited to.
type RolePermission struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RoleID       uuid.UUID      `json:"role_id" gorm:"type:uuid;not null;uniqueIndex:idx_role_permissions_pair;index"`
	PermissionID uuid.UUID      `json:"permission_id" gorm:"type:uuid;not null;uniqueIndex:idx_role_permissions_pair"`
	Conditions   datatypes.JSON `json:"conditions,omitempty" gorm:"type:jsonb"`
	Scope        datatypes.JSON `json:"scope,omitempty" gorm:"type:jsonb"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PermissionDelegation grants the delegatee a role's permissions for a
// bounded window. Expired delegations are retained for audit.
type PermissionDelegation struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	RoleID      uuid.UUID `json:"role_id" gorm:"type:uuid;not null"`
	DelegatorID uuid.UUID `json:"delegator_id" gorm:"type:uuid;not null"`
	DelegateeID uuid.UUID `json:"delegatee_id" gorm:"type:uuid;not null;index"`
	StartsAt    time.Time `json:"starts_at" gorm:"not null"`
	EndsAt      time.Time `json:"ends_at" gorm:"not null;index"`
	Reason      string    `json:"reason" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`

	Role *Role `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

// IsActiveAt reports whether the delegation window contains the given instant
func (d *PermissionDelegation) IsActiveAt(now time.Time) bool {
	return !now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

// BeforeCreate hooks
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (rp *RolePermission) BeforeCreate(tx *gorm.DB) error {
	if rp.ID == uuid.Nil {
		rp.ID = uuid.New()
	}
	return nil
}

func (d *PermissionDelegation) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
