package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-session-service/internal/domain/anpr"
)

var cameraColumns = []string{"cam_id", "organization", "direction", "ip_address", "mac_address", "created_at"}

func TestFindCamera(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewCameraRepository(gdb)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE cam_id = `).
		WillReturnRows(sqlmock.NewRows(cameraColumns).AddRow("gate-in", "org-1", "IN", "10.0.0.10", nil, t0))
	cam, err := repo.FindCamera(ctx, "gate-in")
	require.NoError(t, err)
	assert.Equal(t, &anpr.Camera{CamID: "gate-in", Organization: "org-1", Direction: anpr.DirectionIn, IPAddress: "10.0.0.10"}, cam)

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).
		WillReturnRows(sqlmock.NewRows(cameraColumns))
	_, err = repo.FindCamera(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).
		WillReturnError(errors.New("connection reset"))
	_, err = repo.FindCamera(ctx, "gate-in")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFindCameraByAddress_MACFirst(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewCameraRepository(gdb)

	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE lower\(mac_address\) = `).
		WillReturnRows(sqlmock.NewRows(cameraColumns).AddRow("gate-in", "org-1", "IN", "10.0.0.10", "aa:bb:cc:00:00:10", t0))

	cam, err := repo.FindCameraByAddress(context.Background(), "AA:BB:CC:00:00:10", "10.0.0.10")
	require.NoError(t, err)
	assert.Equal(t, "gate-in", cam.CamID)
	assert.Equal(t, "aa:bb:cc:00:00:10", cam.MACAddress)
}

func TestFindCameraByAddress_FallsBackToIP(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewCameraRepository(gdb)

	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE lower\(mac_address\) = `).
		WillReturnRows(sqlmock.NewRows(cameraColumns))
	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE ip_address = `).
		WillReturnRows(sqlmock.NewRows(cameraColumns).AddRow("gate-out", "org-1", "OUT", "10.0.0.11", nil, t0))

	cam, err := repo.FindCameraByAddress(context.Background(), "ff:ff:ff:ff:ff:ff", "10.0.0.11")
	require.NoError(t, err)
	assert.Equal(t, "gate-out", cam.CamID)
	assert.Equal(t, anpr.DirectionOut, cam.Direction)
}

func TestFindCameraByAddress_NoAddress(t *testing.T) {
	gdb, _ := newMockDB(t)
	repo := NewCameraRepository(gdb)

	_, err := repo.FindCameraByAddress(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindSubID(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewCameraRepository(gdb)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "subjects" WHERE organization = `).
		WillReturnRows(sqlmock.NewRows([]string{"organization", "sub_id", "created_at"}).AddRow("org-1", "sub-1", t0))
	sub, err := repo.FindSubID(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub)

	mock.ExpectQuery(`SELECT \* FROM "subjects"`).
		WillReturnRows(sqlmock.NewRows([]string{"organization", "sub_id", "created_at"}))
	_, err = repo.FindSubID(ctx, "org-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
