package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/models"
	"access-service/internal/tenantctx"
)

type fakeMembershipStore struct {
	memberships map[string]*models.Membership // key userID|tenantID
}

func membershipKey(userID, tenantID uuid.UUID) string {
	return userID.String() + "|" + tenantID.String()
}

func (f *fakeMembershipStore) ActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	return f.memberships[membershipKey(userID, tenantID)], nil
}

type fakeGrantStore struct {
	roleGrants  map[uuid.UUID][]Grant
	delegations []models.PermissionDelegation
}

func (f *fakeGrantStore) RoleGrants(ctx context.Context, roleID uuid.UUID) ([]Grant, error) {
	return f.roleGrants[roleID], nil
}

func (f *fakeGrantStore) ActiveDelegations(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]models.PermissionDelegation, error) {
	var active []models.PermissionDelegation
	for _, d := range f.delegations {
		if d.DelegateeID == userID && d.TenantID == tenantID && d.IsActiveAt(now) {
			active = append(active, d)
		}
	}
	return active, nil
}

type fakeTenantStore struct {
	tenants map[uuid.UUID]*models.Tenant
}

func (f *fakeTenantStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return f.tenants[id], nil
}

type fixture struct {
	engine      *Engine
	memberships *fakeMembershipStore
	grants      *fakeGrantStore
	tenants     *fakeTenantStore
	tenant      *models.Tenant
}

func newFixture() *fixture {
	tenant := &models.Tenant{ID: uuid.New(), Slug: "acme", Status: models.TenantStatusActive}
	memberships := &fakeMembershipStore{memberships: map[string]*models.Membership{}}
	grants := &fakeGrantStore{roleGrants: map[uuid.UUID][]Grant{}}
	tenants := &fakeTenantStore{tenants: map[uuid.UUID]*models.Tenant{tenant.ID: tenant}}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &fixture{
		engine:      New(memberships, grants, tenants, logger),
		memberships: memberships,
		grants:      grants,
		tenants:     tenants,
		tenant:      tenant,
	}
}

func (f *fixture) addLegacyMember(role string) *models.User {
	user := &models.User{ID: uuid.New(), Status: "active"}
	f.memberships.memberships[membershipKey(user.ID, f.tenant.ID)] = &models.Membership{
		ID:         uuid.New(),
		UserID:     user.ID,
		TenantID:   f.tenant.ID,
		LegacyRole: role,
		IsActive:   true,
	}
	return user
}

func (f *fixture) addDynamicMember(grants []Grant) *models.User {
	user := &models.User{ID: uuid.New(), Status: "active"}
	roleID := uuid.New()
	f.grants.roleGrants[roleID] = grants
	f.memberships.memberships[membershipKey(user.ID, f.tenant.ID)] = &models.Membership{
		ID:       uuid.New(),
		UserID:   user.ID,
		TenantID: f.tenant.ID,
		RoleID:   &roleID,
		IsActive: true,
	}
	return user
}

func (f *fixture) orgResource() *Resource {
	return &Resource{Type: models.ResourceOrganization, ID: f.tenant.ID, TenantID: f.tenant.ID}
}

func TestCanRejectsNilResource(t *testing.T) {
	f := newFixture()
	user := f.addLegacyMember(models.RoleOwner)

	_, err := f.engine.Can(context.Background(), user, models.ActionRead, nil)
	assert.ErrorIs(t, err, ErrNilResource)
}

func TestLegacyRoleMatrix(t *testing.T) {
	f := newFixture()
	owner := f.addLegacyMember(models.RoleOwner)
	admin := f.addLegacyMember(models.RoleAdmin)
	member := f.addLegacyMember(models.RoleMember)
	viewer := f.addLegacyMember(models.RoleViewer)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   *models.User
		action string
		res    *Resource
		want   bool
	}{
		{"owner destroys organization", owner, models.ActionDestroy, f.orgResource(), true},
		{"owner manages tasks", owner, models.ActionManage, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, true},
		{"admin updates organization", admin, models.ActionUpdate, f.orgResource(), true},
		{"admin cannot destroy organization", admin, models.ActionDestroy, f.orgResource(), false},
		{"admin manages tasks", admin, models.ActionManage, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, true},
		{"member reads tasks", member, models.ActionRead, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, true},
		{"member creates tasks", member, models.ActionCreate, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, true},
		{"member cannot update organization", member, models.ActionUpdate, f.orgResource(), false},
		{"member cannot destroy tasks", member, models.ActionDestroy, &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID}, false},
		{"viewer reads", viewer, models.ActionRead, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, true},
		{"viewer cannot create", viewer, models.ActionCreate, &Resource{Type: models.ResourceTask, TenantID: f.tenant.ID}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.Can(ctx, tt.user, tt.action, tt.res)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLegacyMemberUpdatesOwnResources(t *testing.T) {
	f := newFixture()
	member := f.addLegacyMember(models.RoleMember)
	ctx := context.Background()

	own := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: member.ID}
	assigned := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID, AssignedTo: []uuid.UUID{member.ID}}
	foreign := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: uuid.New()}

	got, err := f.engine.Can(ctx, member, models.ActionUpdate, own)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.engine.Can(ctx, member, models.ActionUpdate, assigned)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.engine.Can(ctx, member, models.ActionUpdate, foreign)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestAdminCannotModifyOwnerMembership(t *testing.T) {
	f := newFixture()
	admin := f.addLegacyMember(models.RoleAdmin)
	ctx := context.Background()

	ownerMembership := &Resource{
		Type:       models.ResourceMembership,
		ID:         uuid.New(),
		TenantID:   f.tenant.ID,
		TargetRole: models.RoleOwner,
	}
	got, err := f.engine.Can(ctx, admin, models.ActionUpdate, ownerMembership)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = f.engine.Can(ctx, admin, models.ActionRead, ownerMembership)
	require.NoError(t, err)
	assert.True(t, got)

	memberMembership := &Resource{
		Type:       models.ResourceMembership,
		ID:         uuid.New(),
		TenantID:   f.tenant.ID,
		TargetRole: models.RoleMember,
	}
	got, err = f.engine.Can(ctx, admin, models.ActionUpdate, memberMembership)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture()
	user := f.addLegacyMember(models.RoleOwner)

	// The user also owns a second tenant
	other := &models.Tenant{ID: uuid.New(), Slug: "beta", Status: models.TenantStatusActive}
	f.tenants.tenants[other.ID] = other
	f.memberships.memberships[membershipKey(user.ID, other.ID)] = &models.Membership{
		UserID:     user.ID,
		TenantID:   other.ID,
		LegacyRole: models.RoleOwner,
		IsActive:   true,
	}

	// Context bound to acme; resource belongs to beta
	ctx := tenantctx.Bind(context.Background(), f.tenant, user)
	res := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: other.ID}

	got, err := f.engine.Can(ctx, user, models.ActionRead, res)
	require.NoError(t, err)
	assert.False(t, got, "bound context must not grant access to another tenant")

	// Same resource through a context bound to its own tenant
	ctx = tenantctx.Bind(context.Background(), other, user)
	got, err = f.engine.Can(ctx, user, models.ActionRead, res)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestGuestRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	got, err := f.engine.Can(ctx, nil, models.ActionRead, f.orgResource())
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.engine.Can(ctx, nil, models.ActionUpdate, f.orgResource())
	require.NoError(t, err)
	assert.False(t, got)

	f.tenant.Status = models.TenantStatusSuspended
	got, err = f.engine.Can(ctx, nil, models.ActionRead, f.orgResource())
	require.NoError(t, err)
	assert.False(t, got, "guests never read inactive tenants")
}

func TestDynamicGrants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user := f.addDynamicMember([]Grant{
		{Resource: models.ResourceTask, Action: models.ActionManage},
		{Resource: models.ResourceSprint, Action: models.ActionRead},
	})

	// manage covers every action on its resource
	for _, action := range []string{models.ActionRead, models.ActionCreate, models.ActionUpdate, models.ActionDestroy} {
		got, err := f.engine.Can(ctx, user, action, &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID})
		require.NoError(t, err)
		assert.True(t, got, "manage should cover %s", action)
	}

	got, err := f.engine.Can(ctx, user, models.ActionUpdate, &Resource{Type: models.ResourceSprint, ID: uuid.New(), TenantID: f.tenant.ID})
	require.NoError(t, err)
	assert.False(t, got, "read grant must not cover update")

	got, err = f.engine.Can(ctx, user, models.ActionRead, &Resource{Type: models.ResourceRoadmap, TenantID: f.tenant.ID})
	require.NoError(t, err)
	assert.False(t, got, "no grant for roadmap at all")
}

func TestOwnOnlyCondition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user := f.addDynamicMember([]Grant{
		{Resource: models.ResourceTask, Action: models.ActionUpdate, OwnOnly: true},
	})

	own := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: user.ID}
	foreign := &Resource{Type: models.ResourceTask, ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: uuid.New()}

	got, err := f.engine.Can(ctx, user, models.ActionUpdate, own)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.engine.Can(ctx, user, models.ActionUpdate, foreign)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestScopedGrant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inScope := uuid.New()
	user := f.addDynamicMember([]Grant{
		{Resource: models.ResourceDashboard, Action: models.ActionRead, Scope: []string{inScope.String()}},
	})

	got, err := f.engine.Can(ctx, user, models.ActionRead, &Resource{Type: models.ResourceDashboard, ID: inScope, TenantID: f.tenant.ID})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.engine.Can(ctx, user, models.ActionRead, &Resource{Type: models.ResourceDashboard, ID: uuid.New(), TenantID: f.tenant.ID})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDelegationBoundedness(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()

	user := f.addDynamicMember([]Grant{
		{Resource: models.ResourceTask, Action: models.ActionRead},
	})

	delegatedRole := uuid.New()
	f.grants.roleGrants[delegatedRole] = []Grant{
		{Resource: models.ResourceRoadmap, Action: models.ActionManage},
	}
	res := &Resource{Type: models.ResourceRoadmap, ID: uuid.New(), TenantID: f.tenant.ID}

	newDelegation := func(start, end time.Time) models.PermissionDelegation {
		return models.PermissionDelegation{
			ID:          uuid.New(),
			TenantID:    f.tenant.ID,
			RoleID:      delegatedRole,
			DelegatorID: uuid.New(),
			DelegateeID: user.ID,
			StartsAt:    start,
			EndsAt:      end,
		}
	}

	// No delegation: denied
	got, err := f.engine.Can(ctx, user, models.ActionUpdate, res)
	require.NoError(t, err)
	assert.False(t, got)

	// Active window: granted
	f.grants.delegations = []models.PermissionDelegation{newDelegation(now.Add(-time.Hour), now.Add(time.Hour))}
	got, err = f.engine.Can(ctx, user, models.ActionUpdate, res)
	require.NoError(t, err)
	assert.True(t, got)

	// Expired window: never grants
	f.grants.delegations = []models.PermissionDelegation{newDelegation(now.Add(-2*time.Hour), now.Add(-time.Hour))}
	got, err = f.engine.Can(ctx, user, models.ActionUpdate, res)
	require.NoError(t, err)
	assert.False(t, got)

	// Future window: not yet
	f.grants.delegations = []models.PermissionDelegation{newDelegation(now.Add(time.Hour), now.Add(2*time.Hour))}
	got, err = f.engine.Can(ctx, user, models.ActionUpdate, res)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestInactiveMembershipDenied(t *testing.T) {
	f := newFixture()
	user := f.addLegacyMember(models.RoleOwner)
	f.memberships.memberships[membershipKey(user.ID, f.tenant.ID)].IsActive = false

	got, err := f.engine.Can(context.Background(), user, models.ActionRead, f.orgResource())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConveniencePredicates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := f.addLegacyMember(models.RoleOwner)
	admin := f.addLegacyMember(models.RoleAdmin)
	viewer := f.addLegacyMember(models.RoleViewer)
	outsider := &models.User{ID: uuid.New(), Status: "active"}

	assert.True(t, f.engine.OwnerOf(ctx, owner, f.tenant.ID))
	assert.False(t, f.engine.OwnerOf(ctx, admin, f.tenant.ID))
	assert.True(t, f.engine.AdminOf(ctx, admin, f.tenant.ID))
	assert.False(t, f.engine.AdminOf(ctx, viewer, f.tenant.ID))
	assert.True(t, f.engine.MemberOf(ctx, viewer, f.tenant.ID))
	assert.False(t, f.engine.MemberOf(ctx, outsider, f.tenant.ID))

	assert.True(t, f.engine.CanAccess(ctx, viewer, f.tenant))
	assert.False(t, f.engine.CanAccess(ctx, outsider, f.tenant))
}
