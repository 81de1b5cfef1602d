package tenantctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-service/internal/models"
	"access-service/internal/resolver"
)

// Typed errors surfaced by Establish
var (
	// ErrTenantNotFound means the subdomain does not map to any tenant
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrInvalidTenant means the tenant exists but is not active
	ErrInvalidTenant = errors.New("tenant is not active")
	// ErrAccessDenied means the principal has no access to the tenant
	ErrAccessDenied = errors.New("access to tenant denied")
)

// State tracks the lifecycle of a request's tenant binding
type State string

const (
	StateUnset     State = "unset"
	StateResolving State = "resolving"
	StateBound     State = "bound"
	StateRejected  State = "rejected"
)

// TenantStore looks tenants up for binding. A missing tenant is (nil, nil),
// not an error.
type TenantStore interface {
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

// AccessChecker decides whether a principal may enter a tenant's context
type AccessChecker interface {
	CanAccess(ctx context.Context, principal *models.User, tenant *models.Tenant) bool
}

// binding is the per-request tenant state carried inside context.Context.
// Storing it in the context rather than any process-wide structure keeps
// concurrent requests isolated by construction.
type binding struct {
	state         State
	host          string
	resolvedName  string
	tenant        *models.Tenant
	principal     *models.User
	accessGranted bool
}

type contextKey struct{}

// Manager establishes and tears down tenant bindings for requests
type Manager struct {
	resolver *resolver.Resolver
	tenants  TenantStore
	access   AccessChecker
	logger   *logrus.Logger
}

// NewManager creates a tenant context manager
func NewManager(r *resolver.Resolver, tenants TenantStore, access AccessChecker, logger *logrus.Logger) *Manager {
	return &Manager{
		resolver: r,
		tenants:  tenants,
		access:   access,
		logger:   logger,
	}
}

// Establish resolves the request host and binds the matching tenant into
// the returned context. Reserved and main-domain hosts bind nothing and
// return no error. A nil principal (guest) can still get a binding; access
// checking only applies to authenticated principals.
//
// The returned context always carries the binding outcome, including
// rejections, so the snapshot endpoint can report what happened.
func (m *Manager) Establish(ctx context.Context, host string, principal *models.User) (context.Context, *models.Tenant, error) {
	res := m.resolver.Resolve(host)
	b := &binding{
		state:        StateResolving,
		host:         host,
		resolvedName: res.Name,
		principal:    principal,
	}

	if res.Kind != resolver.KindTenant {
		b.state = StateUnset
		return context.WithValue(ctx, contextKey{}, b), nil, nil
	}

	tenant, err := m.tenants.FindBySlug(ctx, res.Name)
	if err != nil {
		b.state = StateRejected
		return context.WithValue(ctx, contextKey{}, b), nil, fmt.Errorf("tenant lookup for %q: %w", res.Name, err)
	}
	if tenant == nil {
		b.state = StateRejected
		m.logger.WithFields(logrus.Fields{
			"host": host,
			"slug": res.Name,
		}).Warn("Tenant subdomain does not resolve to a tenant")
		return context.WithValue(ctx, contextKey{}, b), nil, ErrTenantNotFound
	}
	if !tenant.IsActive() {
		b.state = StateRejected
		m.logger.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"slug":      tenant.Slug,
			"status":    tenant.Status,
		}).Warn("Rejected binding to inactive tenant")
		return context.WithValue(ctx, contextKey{}, b), nil, ErrInvalidTenant
	}

	if principal != nil {
		if !m.access.CanAccess(ctx, principal, tenant) {
			b.state = StateRejected
			b.tenant = tenant
			m.logger.WithFields(logrus.Fields{
				"tenant_id": tenant.ID,
				"user_id":   principal.ID,
			}).Warn("Principal denied access to tenant")
			return context.WithValue(ctx, contextKey{}, b), nil, ErrAccessDenied
		}
		b.accessGranted = true
	}

	b.state = StateBound
	b.tenant = tenant
	return context.WithValue(ctx, contextKey{}, b), tenant, nil
}

// Bind returns a context bound to the given tenant without resolution or
// access checks. Callers (the tenant switcher) must have validated access
// already.
func Bind(ctx context.Context, tenant *models.Tenant, principal *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, &binding{
		state:         StateBound,
		resolvedName:  tenant.Slug,
		tenant:        tenant,
		principal:     principal,
		accessGranted: principal != nil,
	})
}

// Clear returns a context with no tenant bound. Idempotent.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, &binding{state: StateUnset})
}

// WithTenant runs fn with the given tenant bound. The previous binding is
// untouched on every exit path since the override only lives in the derived
// context passed to fn.
func WithTenant(ctx context.Context, tenant *models.Tenant, fn func(ctx context.Context) error) error {
	scoped := context.WithValue(ctx, contextKey{}, &binding{
		state:        StateBound,
		resolvedName: tenant.Slug,
		tenant:       tenant,
	})
	return fn(scoped)
}

// Current returns the bound tenant, if any
func Current(ctx context.Context) (*models.Tenant, bool) {
	b := fromContext(ctx)
	if b == nil || b.state != StateBound || b.tenant == nil {
		return nil, false
	}
	return b.tenant, true
}

// CurrentID returns the bound tenant's ID, if any
func CurrentID(ctx context.Context) (uuid.UUID, bool) {
	t, ok := Current(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return t.ID, true
}

// IsBound reports whether a tenant is bound in this context
func IsBound(ctx context.Context) bool {
	_, ok := Current(ctx)
	return ok
}

// Principal returns the principal recorded at binding time, if any
func Principal(ctx context.Context) (*models.User, bool) {
	b := fromContext(ctx)
	if b == nil || b.principal == nil {
		return nil, false
	}
	return b.principal, true
}

// Snapshot is a read-only view of the binding for debugging and the
// context endpoint. Never use it for authorization decisions.
type Snapshot struct {
	State         State      `json:"state"`
	Host          string     `json:"host,omitempty"`
	ResolvedName  string     `json:"resolved_name,omitempty"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty"`
	TenantSlug    string     `json:"tenant_slug,omitempty"`
	TenantName    string     `json:"tenant_name,omitempty"`
	PrincipalID   *uuid.UUID `json:"principal_id,omitempty"`
	AccessGranted bool       `json:"access_granted"`
}

// GetSnapshot captures the current binding state
func GetSnapshot(ctx context.Context) Snapshot {
	b := fromContext(ctx)
	if b == nil {
		return Snapshot{State: StateUnset}
	}
	s := Snapshot{
		State:         b.state,
		Host:          b.host,
		ResolvedName:  b.resolvedName,
		AccessGranted: b.accessGranted,
	}
	if b.tenant != nil {
		id := b.tenant.ID
		s.TenantID = &id
		s.TenantSlug = b.tenant.Slug
		s.TenantName = b.tenant.Name
	}
	if b.principal != nil {
		id := b.principal.ID
		s.PrincipalID = &id
	}
	return s
}

func fromContext(ctx context.Context) *binding {
	b, _ := ctx.Value(contextKey{}).(*binding)
	return b
}
