package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"access-service/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

var membershipCols = []string{"id", "user_id", "tenant_id", "legacy_role", "role_id", "is_active"}

func TestTransferOwnershipDemotesDynamicOwners(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	tenantID := uuid.New()
	newOwnerID, legacyOwnerID, dynOwnerID := uuid.New(), uuid.New(), uuid.New()
	targetID, legacyRowID, dynRowID := uuid.New(), uuid.New(), uuid.New()
	ownerRoleID := uuid.New()

	mock.ExpectBegin()
	// Resolve the target membership
	mock.ExpectQuery(`SELECT (.+) FROM "memberships" WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow(targetID.String(), newOwnerID.String(), tenantID.String(), models.RoleMember, nil, true))
	// Demote the legacy owner
	mock.ExpectQuery(`SELECT (.+) FROM "memberships" WHERE tenant_id (.+) legacy_role`).
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow(legacyRowID.String(), legacyOwnerID.String(), tenantID.String(), models.RoleOwner, nil, true))
	mock.ExpectExec(`UPDATE "memberships" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Demote the holder of an owner-priority dynamic role
	mock.ExpectQuery(`SELECT (.+) FROM "memberships" JOIN roles ON roles.id = memberships.role_id`).
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow(dynRowID.String(), dynOwnerID.String(), tenantID.String(), "", ownerRoleID.String(), true))
	mock.ExpectExec(`UPDATE "memberships" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Promote the target
	mock.ExpectExec(`UPDATE "memberships" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := repo.TransferOwnership(context.Background(), tenantID, newOwnerID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{legacyOwnerID, dynOwnerID, newOwnerID}, affected,
		"both the legacy owner and the dynamic owner-level holder are demoted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnershipRejectsNonMember(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "memberships" WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(membershipCols))
	mock.ExpectRollback()

	_, err := repo.TransferOwnership(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNoOwnerCandidate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
