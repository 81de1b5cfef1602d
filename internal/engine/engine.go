package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-service/internal/metrics"
	"access-service/internal/models"
	"access-service/internal/tenantctx"
)

// ErrNilResource is returned when a permission check is attempted without a
// resource. Denials are never errors; malformed input is.
var ErrNilResource = errors.New("permission check requires a resource")

// Resource identifies the tenant-scoped object (or class of objects, when
// ID is nil) a permission check runs against
type Resource struct {
	Type       string
	ID         uuid.UUID
	TenantID   uuid.UUID
	CreatedBy  uuid.UUID
	AssignedTo []uuid.UUID
	// TargetRole is set for membership resources: the role held by the
	// membership being acted upon. Admins cannot modify owner memberships.
	TargetRole string
}

// IsClass reports whether the check targets a whole resource type rather
// than a specific instance
func (r *Resource) IsClass() bool {
	return r.ID == uuid.Nil
}

// Grant is one effective permission attached to a membership, either from
// its role or from an active delegation
type Grant struct {
	Resource  string   `json:"resource"`
	Action    string   `json:"action"`
	OwnOnly   bool     `json:"own_only,omitempty"`
	Scope     []string `json:"scope,omitempty"`
	Delegated bool     `json:"delegated,omitempty"`
}

// Matches reports whether the grant covers the resource type and action.
// The manage action covers every action on its resource.
func (g *Grant) Matches(resourceType, action string) bool {
	if g.Resource != resourceType {
		return false
	}
	return g.Action == action || g.Action == models.ActionManage
}

// MembershipStore looks up the principal's membership in a tenant.
// A missing membership is (nil, nil), not an error.
type MembershipStore interface {
	ActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
}

// GrantStore resolves dynamic roles and delegations into grants
type GrantStore interface {
	RoleGrants(ctx context.Context, roleID uuid.UUID) ([]Grant, error)
	ActiveDelegations(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]models.PermissionDelegation, error)
}

// TenantStore looks tenants up by ID for guest checks
type TenantStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// GrantLoader computes a grant set on a cache miss. The returned TTL, when
// positive, caps how long the result may be cached (delegation windows
// expire independently of the cache backstop).
type GrantLoader func(ctx context.Context) ([]Grant, time.Duration, error)

// GrantCache memoizes computed grant sets per (tenant, principal, role
// fingerprint). Implementations must degrade to the loader on any failure
// and never serve a default-allow result.
type GrantCache interface {
	Fetch(ctx context.Context, tenantID, userID uuid.UUID, fingerprint string, load GrantLoader) ([]Grant, error)
	Invalidate(ctx context.Context, tenantID, userID uuid.UUID) error
}

// Engine answers permission checks. All tenant-scoped access decisions in
// the service flow through Can, which is what makes the tenant isolation
// guarantee enforceable.
type Engine struct {
	memberships MembershipStore
	grants      GrantStore
	tenants     TenantStore
	cache       GrantCache
	logger      *logrus.Logger
	now         func() time.Time
}

// New creates a permission engine. The cache is optional and attached via
// SetCache.
func New(memberships MembershipStore, grants GrantStore, tenants TenantStore, logger *logrus.Logger) *Engine {
	return &Engine{
		memberships: memberships,
		grants:      grants,
		tenants:     tenants,
		logger:      logger,
		now:         time.Now,
	}
}

// SetCache attaches a grant cache. Without one every check evaluates
// directly against the stores.
func (e *Engine) SetCache(cache GrantCache) {
	e.cache = cache
}

// Can reports whether the principal may perform action on the resource.
// A nil principal is a guest. Denial is (false, nil); errors are reserved
// for malformed input and store failures.
func (e *Engine) Can(ctx context.Context, principal *models.User, action string, res *Resource) (bool, error) {
	if res == nil {
		return false, ErrNilResource
	}
	if action == "" || res.Type == "" {
		return false, fmt.Errorf("permission check requires an action and resource type")
	}

	allowed, err := e.evaluate(ctx, principal, action, res)
	if err != nil {
		return false, err
	}
	if allowed {
		metrics.PermissionDecisions.WithLabelValues("allow").Inc()
	} else {
		metrics.PermissionDecisions.WithLabelValues("deny").Inc()
	}
	return allowed, nil
}

func (e *Engine) evaluate(ctx context.Context, principal *models.User, action string, res *Resource) (bool, error) {
	if principal == nil {
		return e.guestAllowed(ctx, action, res), nil
	}
	if !principal.IsActive() {
		return false, nil
	}

	tenantID := res.TenantID
	if tenantID == uuid.Nil {
		// Class-level checks fall back to the bound tenant
		id, ok := tenantctx.CurrentID(ctx)
		if !ok {
			return false, nil
		}
		tenantID = id
	}

	// Tenant isolation choke point: a context bound to one tenant never
	// yields access to another tenant's resources, regardless of the
	// principal's memberships elsewhere.
	if boundID, ok := tenantctx.CurrentID(ctx); ok && boundID != tenantID {
		e.logger.WithFields(logrus.Fields{
			"user_id":         principal.ID,
			"bound_tenant":    boundID,
			"resource_tenant": tenantID,
			"resource_type":   res.Type,
		}).Warn("Cross-tenant access blocked")
		return false, nil
	}

	membership, err := e.memberships.ActiveMembership(ctx, principal.ID, tenantID)
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	if membership == nil || !membership.IsActive {
		return false, nil
	}

	if membership.UsesLegacyRole() {
		return legacyAllows(membership.LegacyRole, principal.ID, action, res), nil
	}

	grants, err := e.membershipGrants(ctx, membership)
	if err != nil {
		return false, err
	}
	return grantsAllow(grants, principal.ID, action, res), nil
}

// guestAllowed implements the guest rules: unauthenticated principals get
// read-only access to active tenants and nothing else
func (e *Engine) guestAllowed(ctx context.Context, action string, res *Resource) bool {
	if action != models.ActionRead {
		return false
	}
	if res.TenantID == uuid.Nil {
		return false
	}
	tenant, err := e.tenants.FindByID(ctx, res.TenantID)
	if err != nil || tenant == nil {
		return false
	}
	return tenant.IsActive()
}

// membershipGrants resolves the effective grant set for a dynamic-role
// membership, through the cache when one is attached
func (e *Engine) membershipGrants(ctx context.Context, m *models.Membership) ([]Grant, error) {
	load := func(ctx context.Context) ([]Grant, time.Duration, error) {
		return e.loadGrants(ctx, m)
	}
	if e.cache == nil {
		grants, _, err := e.loadGrants(ctx, m)
		return grants, err
	}
	return e.cache.Fetch(ctx, m.TenantID, m.UserID, m.RoleFingerprint(), load)
}

// loadGrants computes the grant set from the membership's role plus any
// active delegations. The returned TTL caps cache lifetime at the nearest
// delegation expiry so a lapsed delegation cannot outlive its window in
// the cache.
func (e *Engine) loadGrants(ctx context.Context, m *models.Membership) ([]Grant, time.Duration, error) {
	now := e.now()

	grants, err := e.grants.RoleGrants(ctx, *m.RoleID)
	if err != nil {
		return nil, 0, fmt.Errorf("role grants: %w", err)
	}

	delegations, err := e.grants.ActiveDelegations(ctx, m.UserID, m.TenantID, now)
	if err != nil {
		return nil, 0, fmt.Errorf("delegation lookup: %w", err)
	}

	var ttl time.Duration
	for i := range delegations {
		d := &delegations[i]
		if !d.IsActiveAt(now) {
			continue
		}
		delegated, err := e.grants.RoleGrants(ctx, d.RoleID)
		if err != nil {
			return nil, 0, fmt.Errorf("delegated role grants: %w", err)
		}
		for _, g := range delegated {
			g.Delegated = true
			grants = append(grants, g)
		}
		if remaining := d.EndsAt.Sub(now); ttl == 0 || remaining < ttl {
			ttl = remaining
		}
	}
	return grants, ttl, nil
}

// InvalidateGrants drops cached grants for a principal in a tenant. Called
// by the membership and role services after any role, permission or
// delegation change.
func (e *Engine) InvalidateGrants(ctx context.Context, tenantID, userID uuid.UUID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, tenantID, userID); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
		}).Warn("Failed to invalidate cached grants")
	}
}

// grantsAllow evaluates the dynamic-role grant set against a resource
func grantsAllow(grants []Grant, principalID uuid.UUID, action string, res *Resource) bool {
	for i := range grants {
		g := &grants[i]
		if !g.Matches(res.Type, action) {
			continue
		}
		if g.OwnOnly && !ownedBy(principalID, res) {
			continue
		}
		if len(g.Scope) > 0 && !scopeContains(g.Scope, res) {
			continue
		}
		return true
	}
	return false
}

// ownedBy reports whether the principal created or is assigned the resource
func ownedBy(principalID uuid.UUID, res *Resource) bool {
	if res.CreatedBy == principalID {
		return true
	}
	for _, id := range res.AssignedTo {
		if id == principalID {
			return true
		}
	}
	return false
}

// scopeContains checks a scoped grant against the resource instance.
// Class-level checks pass: the grant covers at least some instances.
func scopeContains(scope []string, res *Resource) bool {
	if res.IsClass() {
		return true
	}
	id := res.ID.String()
	for _, s := range scope {
		if s == id {
			return true
		}
	}
	return false
}

// OwnerOf reports whether the principal holds owner authority in the tenant
func (e *Engine) OwnerOf(ctx context.Context, principal *models.User, tenantID uuid.UUID) bool {
	m := e.lookupMembership(ctx, principal, tenantID)
	return m != nil && m.IsOwnerLevel()
}

// AdminOf reports whether the principal holds admin authority or above
func (e *Engine) AdminOf(ctx context.Context, principal *models.User, tenantID uuid.UUID) bool {
	m := e.lookupMembership(ctx, principal, tenantID)
	return m != nil && m.IsAdminLevel()
}

// MemberOf reports whether the principal has any active membership
func (e *Engine) MemberOf(ctx context.Context, principal *models.User, tenantID uuid.UUID) bool {
	return e.lookupMembership(ctx, principal, tenantID) != nil
}

// CanAccess reports whether the principal may enter the tenant's context
// at all. Used by the tenant context manager and the switcher.
func (e *Engine) CanAccess(ctx context.Context, principal *models.User, tenant *models.Tenant) bool {
	if tenant == nil || !tenant.IsActive() {
		return false
	}
	if principal == nil {
		// Guests can enter active tenants read-only
		return true
	}
	return e.MemberOf(ctx, principal, tenant.ID)
}

func (e *Engine) lookupMembership(ctx context.Context, principal *models.User, tenantID uuid.UUID) *models.Membership {
	if principal == nil || tenantID == uuid.Nil {
		return nil
	}
	m, err := e.memberships.ActiveMembership(ctx, principal.ID, tenantID)
	if err != nil {
		e.logger.WithError(err).Warn("Membership lookup failed")
		return nil
	}
	if m == nil || !m.IsActive {
		return nil
	}
	return m
}
