package switcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-service/internal/audit"
	"access-service/internal/metrics"
	"access-service/internal/models"
	"access-service/internal/session"
	"access-service/internal/tenantctx"
)

// Typed errors surfaced by SwitchTo
var (
	// ErrInvalidTarget means the request itself was malformed
	ErrInvalidTarget = errors.New("invalid switch target")
	// ErrTargetNotFound means no tenant exists for the slug
	ErrTargetNotFound = errors.New("target tenant not found")
	// ErrTargetInactive means the tenant exists but cannot be entered
	ErrTargetInactive = errors.New("target tenant is not active")
	// ErrUnauthorizedSwitch means the principal has no access to the target
	ErrUnauthorizedSwitch = errors.New("not authorized to switch to target tenant")
	// ErrAlreadyCurrent means the target is already the bound tenant
	ErrAlreadyCurrent = errors.New("target tenant is already current")
)

// maxHistoryEntries bounds the per-session switch history
const maxHistoryEntries = 10

// TenantStore looks up switch targets and the principal's tenants
type TenantStore interface {
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// ListActiveForUser returns active tenants the user has an active
	// membership in, sorted by name
	ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]models.Tenant, error)
}

// AccessChecker decides whether the principal may enter a tenant
type AccessChecker interface {
	CanAccess(ctx context.Context, principal *models.User, tenant *models.Tenant) bool
}

// AuditRecorder records switch attempts
type AuditRecorder interface {
	LogEvent(ctx context.Context, eventType models.SecurityEventType, fields audit.EventFields) *models.SecurityEvent
}

// Switcher moves a principal's session between tenants. Every attempt is
// audited: TENANT_SWITCH on success, CROSS_TENANT_ACCESS on an
// authorization denial.
type Switcher struct {
	tenants  TenantStore
	access   AccessChecker
	sessions session.Store
	audit    AuditRecorder
	logger   *logrus.Logger
	now      func() time.Time
}

// New creates a tenant switcher
func New(tenants TenantStore, access AccessChecker, sessions session.Store, auditor AuditRecorder, logger *logrus.Logger) *Switcher {
	return &Switcher{
		tenants:  tenants,
		access:   access,
		sessions: sessions,
		audit:    auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// AvailableTenants lists the tenants the principal can switch to
func (s *Switcher) AvailableTenants(ctx context.Context, principal *models.User) ([]models.Tenant, error) {
	if principal == nil {
		return nil, nil
	}
	return s.tenants.ListActiveForUser(ctx, principal.ID)
}

// SwitchTo validates the target, rebinds the context and persists the new
// binding into the session. On any failure the returned context is the
// caller's own: the current binding is left untouched.
func (s *Switcher) SwitchTo(ctx context.Context, principal *models.User, targetSlug, sessionID string) (context.Context, *models.Tenant, error) {
	if principal == nil || targetSlug == "" {
		metrics.TenantSwitches.WithLabelValues("invalid").Inc()
		return ctx, nil, ErrInvalidTarget
	}

	target, err := s.tenants.FindBySlug(ctx, targetSlug)
	if err != nil {
		metrics.TenantSwitches.WithLabelValues("error").Inc()
		return ctx, nil, err
	}
	if target == nil {
		metrics.TenantSwitches.WithLabelValues("not_found").Inc()
		return ctx, nil, ErrTargetNotFound
	}
	if !target.IsActive() {
		metrics.TenantSwitches.WithLabelValues("inactive").Inc()
		return ctx, nil, ErrTargetInactive
	}
	if current, ok := tenantctx.Current(ctx); ok && current.ID == target.ID {
		metrics.TenantSwitches.WithLabelValues("already_current").Inc()
		return ctx, nil, ErrAlreadyCurrent
	}

	if !s.access.CanAccess(ctx, principal, target) {
		metrics.TenantSwitches.WithLabelValues("denied").Inc()
		targetID := target.ID
		s.audit.LogEvent(ctx, models.EventCrossTenantAccess, audit.EventFields{
			UserID:   &principal.ID,
			Email:    principal.Email,
			TenantID: &targetID,
			Resource: "tenant_switch",
			Details: map[string]interface{}{
				"target_slug": target.Slug,
			},
		})
		return ctx, nil, ErrUnauthorizedSwitch
	}

	newCtx := tenantctx.Bind(ctx, target, principal)

	// Session persistence is best effort: a session store hiccup must not
	// undo an authorized switch
	if err := s.sessions.SetCurrentTenant(ctx, sessionID, target.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to persist tenant binding to session")
	}
	if err := s.sessions.DeleteReturnTo(ctx, sessionID); err != nil {
		s.logger.WithError(err).Warn("Failed to evict return-to target")
	}
	s.recordHistory(ctx, sessionID, target)

	targetID := target.ID
	s.audit.LogEvent(ctx, models.EventTenantSwitch, audit.EventFields{
		UserID:   &principal.ID,
		Email:    principal.Email,
		TenantID: &targetID,
		Resource: "tenant_switch",
		Details: map[string]interface{}{
			"target_slug": target.Slug,
		},
	})
	metrics.TenantSwitches.WithLabelValues("success").Inc()

	return newCtx, target, nil
}

// LeaveCurrent drops the session's tenant binding and returns an unbound
// context. Leaving with nothing bound is a no-op.
func (s *Switcher) LeaveCurrent(ctx context.Context, sessionID string) context.Context {
	if err := s.sessions.ClearCurrentTenant(ctx, sessionID); err != nil {
		s.logger.WithError(err).Warn("Failed to clear session tenant binding")
	}
	return tenantctx.Clear(ctx)
}

// History returns the session's switch history, oldest first
func (s *Switcher) History(ctx context.Context, sessionID string) ([]session.SwitchRecord, error) {
	return s.sessions.History(ctx, sessionID)
}

// recordHistory appends the switch to the session history, deduplicating
// by tenant (an existing entry moves to the end) and keeping at most
// maxHistoryEntries
func (s *Switcher) recordHistory(ctx context.Context, sessionID string, target *models.Tenant) {
	records, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read switch history")
		records = nil
	}

	kept := records[:0]
	for _, r := range records {
		if r.TenantID != target.ID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, session.SwitchRecord{
		TenantID:   target.ID,
		Slug:       target.Slug,
		SwitchedAt: s.now().UTC(),
	})
	if len(kept) > maxHistoryEntries {
		kept = kept[len(kept)-maxHistoryEntries:]
	}

	if err := s.sessions.SetHistory(ctx, sessionID, kept); err != nil {
		s.logger.WithError(err).Warn("Failed to persist switch history")
	}
}
