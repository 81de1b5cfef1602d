package switcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/audit"
	"access-service/internal/models"
	"access-service/internal/session"
	"access-service/internal/tenantctx"
)

type fakeTenantStore struct {
	bySlug  map[string]*models.Tenant
	forUser []models.Tenant
}

func (f *fakeTenantStore) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return f.bySlug[slug], nil
}

func (f *fakeTenantStore) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]models.Tenant, error) {
	return f.forUser, nil
}

type fakeAccess struct {
	allowed map[uuid.UUID]bool
}

func (f *fakeAccess) CanAccess(ctx context.Context, principal *models.User, tenant *models.Tenant) bool {
	return f.allowed[tenant.ID]
}

type recordingAuditor struct {
	events []recordedEvent
}

type recordedEvent struct {
	eventType models.SecurityEventType
	fields    audit.EventFields
}

func (r *recordingAuditor) LogEvent(ctx context.Context, eventType models.SecurityEventType, fields audit.EventFields) *models.SecurityEvent {
	r.events = append(r.events, recordedEvent{eventType: eventType, fields: fields})
	return &models.SecurityEvent{EventType: eventType}
}

func (r *recordingAuditor) byType(t models.SecurityEventType) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.events {
		if e.eventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	switcher *Switcher
	tenants  *fakeTenantStore
	access   *fakeAccess
	sessions *session.MemoryStore
	auditor  *recordingAuditor
	user     *models.User
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tenants := &fakeTenantStore{bySlug: map[string]*models.Tenant{}}
	access := &fakeAccess{allowed: map[uuid.UUID]bool{}}
	sessions := session.NewMemoryStore()
	auditor := &recordingAuditor{}
	return &fixture{
		switcher: New(tenants, access, sessions, auditor, logger),
		tenants:  tenants,
		access:   access,
		sessions: sessions,
		auditor:  auditor,
		user:     &models.User{ID: uuid.New(), Email: "dev@acme.io", Status: "active"},
	}
}

func (f *fixture) addTenant(slug string, accessible bool) *models.Tenant {
	t := &models.Tenant{ID: uuid.New(), Name: slug, Slug: slug, Status: models.TenantStatusActive}
	f.tenants.bySlug[slug] = t
	f.access.allowed[t.ID] = accessible
	return t
}

func TestSwitchToSuccess(t *testing.T) {
	f := newFixture()
	target := f.addTenant("acme", true)

	ctx, got, err := f.switcher.SwitchTo(context.Background(), f.user, "acme", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, target.ID, got.ID)

	bound, ok := tenantctx.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, target.ID, bound.ID)

	// Session carries the new binding
	current, ok, err := f.sessions.CurrentTenant(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, target.ID, current)

	// Exactly one audit event, a successful switch
	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, models.EventTenantSwitch, f.auditor.events[0].eventType)
}

func TestSwitchToEvictsReturnTo(t *testing.T) {
	f := newFixture()
	f.addTenant("acme", true)
	require.NoError(t, f.sessions.SetReturnTo(context.Background(), "sess-1", "/projects/42"))

	_, _, err := f.switcher.SwitchTo(context.Background(), f.user, "acme", "sess-1")
	require.NoError(t, err)

	_, ok := f.sessions.ReturnTo(context.Background(), "sess-1")
	assert.False(t, ok, "stale return-to target must not survive a switch")
}

func TestSwitchToUnknownTarget(t *testing.T) {
	f := newFixture()

	ctx, got, err := f.switcher.SwitchTo(context.Background(), f.user, "ghost", "sess-1")
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Nil(t, got)
	assert.False(t, tenantctx.IsBound(ctx))
}

func TestSwitchToInactiveTarget(t *testing.T) {
	f := newFixture()
	target := f.addTenant("acme", true)
	target.Status = models.TenantStatusSuspended

	_, _, err := f.switcher.SwitchTo(context.Background(), f.user, "acme", "sess-1")
	assert.ErrorIs(t, err, ErrTargetInactive)
}

func TestSwitchToAlreadyCurrent(t *testing.T) {
	f := newFixture()
	target := f.addTenant("acme", true)
	ctx := tenantctx.Bind(context.Background(), target, f.user)

	_, _, err := f.switcher.SwitchTo(ctx, f.user, "acme", "sess-1")
	assert.ErrorIs(t, err, ErrAlreadyCurrent)
}

func TestUnauthorizedSwitchLeavesBindingAndLogsOnce(t *testing.T) {
	f := newFixture()
	home := f.addTenant("home", true)
	forbidden := f.addTenant("forbidden", false)

	ctx := tenantctx.Bind(context.Background(), home, f.user)

	gotCtx, got, err := f.switcher.SwitchTo(ctx, f.user, "forbidden", "sess-1")
	assert.ErrorIs(t, err, ErrUnauthorizedSwitch)
	assert.Nil(t, got)

	// Binding unchanged
	bound, ok := tenantctx.Current(gotCtx)
	require.True(t, ok)
	assert.Equal(t, home.ID, bound.ID)

	// Exactly one cross-tenant access event
	denials := f.auditor.byType(models.EventCrossTenantAccess)
	require.Len(t, denials, 1)
	require.NotNil(t, denials[0].fields.TenantID)
	assert.Equal(t, forbidden.ID, *denials[0].fields.TenantID)
	assert.Empty(t, f.auditor.byType(models.EventTenantSwitch))

	// Session untouched
	_, ok, err = f.sessions.CurrentTenant(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchToInvalidInput(t *testing.T) {
	f := newFixture()
	f.addTenant("acme", true)

	_, _, err := f.switcher.SwitchTo(context.Background(), nil, "acme", "sess-1")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, _, err = f.switcher.SwitchTo(context.Background(), f.user, "", "sess-1")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Empty(t, f.auditor.events)
}

func TestLeaveCurrent(t *testing.T) {
	f := newFixture()
	target := f.addTenant("acme", true)

	ctx, _, err := f.switcher.SwitchTo(context.Background(), f.user, "acme", "sess-1")
	require.NoError(t, err)
	require.True(t, tenantctx.IsBound(ctx))
	_ = target

	left := f.switcher.LeaveCurrent(ctx, "sess-1")
	assert.False(t, tenantctx.IsBound(left))

	_, ok, err := f.sessions.CurrentTenant(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Leaving again is a no-op
	left = f.switcher.LeaveCurrent(left, "sess-1")
	assert.False(t, tenantctx.IsBound(left))
}

func TestHistoryDedupAndBound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var slugs []string
	for i := 0; i < 12; i++ {
		slug := fmt.Sprintf("tenant-%02d", i)
		f.addTenant(slug, true)
		slugs = append(slugs, slug)
	}

	for _, slug := range slugs {
		_, _, err := f.switcher.SwitchTo(ctx, f.user, slug, "sess-1")
		require.NoError(t, err)
	}

	history, err := f.switcher.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, maxHistoryEntries, "history is bounded")
	assert.Equal(t, "tenant-02", history[0].Slug)
	assert.Equal(t, "tenant-11", history[len(history)-1].Slug)

	// Revisiting a tenant moves it to the end without growing the history
	_, _, err = f.switcher.SwitchTo(ctx, f.user, "tenant-05", "sess-1")
	require.NoError(t, err)

	history, err = f.switcher.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, maxHistoryEntries)
	assert.Equal(t, "tenant-05", history[len(history)-1].Slug)

	seen := map[uuid.UUID]int{}
	for _, r := range history {
		seen[r.TenantID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "tenant %s appears more than once", id)
	}
}

func TestAvailableTenants(t *testing.T) {
	f := newFixture()
	f.tenants.forUser = []models.Tenant{
		{ID: uuid.New(), Name: "Alpha", Slug: "alpha"},
		{ID: uuid.New(), Name: "Beta", Slug: "beta"},
	}

	tenants, err := f.switcher.AvailableTenants(context.Background(), f.user)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	tenants, err = f.switcher.AvailableTenants(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tenants)
}
