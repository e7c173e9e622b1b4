package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestRunMigrations(t *testing.T) {
	gdb, mock := newMockGorm(t)
	for _, stmt := range migrationStatements {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, RunMigrations(context.Background(), gdb))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_StopsAtFirstFailure(t *testing.T) {
	gdb, mock := newMockGorm(t)
	mock.ExpectExec(regexp.QuoteMeta(migrationStatements[0])).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(migrationStatements[1])).WillReturnError(errors.New("permission denied"))

	err := RunMigrations(context.Background(), gdb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2 failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_OpenSessionUniqueness(t *testing.T) {
	var found bool
	for _, stmt := range migrationStatements {
		if regexp.MustCompile(`(?s)UNIQUE INDEX.+vehicle_sessions\(organization, sub_id, reg_num\)\s+WHERE status = 'OPEN'`).MatchString(stmt) {
			found = true
		}
	}
	assert.True(t, found)
}
