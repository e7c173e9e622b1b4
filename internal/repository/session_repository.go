package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"anpr-session-service/internal/domain/anpr"
)

// ErrDuplicateOpen means another writer opened the identity first.
var ErrDuplicateOpen = errors.New("open session already exists")

// SessionRepository persists vehicle sessions. Every mutation is a single
// conditional statement; the OPEN-scoped unique index is what keeps two
// racing writers from opening the same identity twice.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type VehicleSession struct {
	ID           string     `gorm:"column:id;primaryKey"`
	Organization string     `gorm:"column:organization"`
	SubID        string     `gorm:"column:sub_id"`
	RegNum       string     `gorm:"column:reg_num"`
	Province     *string    `gorm:"column:province"`
	Status       string     `gorm:"column:status"`
	EntryTime    *time.Time `gorm:"column:entry_time"`
	EntryCamID   *string    `gorm:"column:entry_cam_id"`
	EntryLogID   *string    `gorm:"column:entry_log_id"`
	ExitTime     *time.Time `gorm:"column:exit_time"`
	ExitCamID    *string    `gorm:"column:exit_cam_id"`
	ExitLogID    *string    `gorm:"column:exit_log_id"`
	DurationSec  *int64     `gorm:"column:duration_sec"`
	LastSeenAt   *time.Time `gorm:"column:last_seen_at"`
	LockedUntil  *time.Time `gorm:"column:locked_until"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	Inserted     bool       `gorm:"->;column:inserted"`
}

func (VehicleSession) TableName() string {
	return "vehicle_sessions"
}

const sessionColumns = `id, organization, sub_id, reg_num, province, status,
	entry_time, entry_cam_id, entry_log_id, exit_time, exit_cam_id, exit_log_id,
	duration_sec, last_seen_at, locked_until, created_at, updated_at`

const upsertOpenSQL = `
	INSERT INTO vehicle_sessions (id, organization, sub_id, reg_num, province, status,
		entry_time, entry_cam_id, entry_log_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 'OPEN', ?, ?, ?, ?, ?, ?)
	ON CONFLICT (organization, sub_id, reg_num) WHERE status = 'OPEN'
	DO UPDATE SET
		last_seen_at = GREATEST(vehicle_sessions.last_seen_at, EXCLUDED.last_seen_at),
		updated_at = EXCLUDED.updated_at
	RETURNING ` + sessionColumns + `, (xmax = 0) AS inserted`

const touchOpenSQL = `
	UPDATE vehicle_sessions
	SET last_seen_at = GREATEST(last_seen_at, ?), updated_at = ?
	WHERE organization = ? AND sub_id = ? AND reg_num = ? AND status = 'OPEN'
	RETURNING ` + sessionColumns

const closeOpenSQL = `
	UPDATE vehicle_sessions
	SET status = 'CLOSED', exit_time = ?, exit_cam_id = ?, exit_log_id = ?,
		last_seen_at = ?, updated_at = ?
	WHERE organization = ? AND sub_id = ? AND reg_num = ? AND status = 'OPEN'
	RETURNING ` + sessionColumns

const finalizeCloseSQL = `
	UPDATE vehicle_sessions
	SET duration_sec = ?, locked_until = ?, updated_at = ?
	WHERE id = ? AND status = 'CLOSED'`

const insertConflictSQL = `
	INSERT INTO vehicle_sessions (id, organization, sub_id, reg_num, province, status,
		exit_time, exit_cam_id, exit_log_id, last_seen_at, locked_until, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 'CONFLICT', ?, ?, ?, ?, ?, ?, ?)`

const abandonSeenSQL = `
	UPDATE vehicle_sessions
	SET status = 'ABANDONED', updated_at = ?
	WHERE status = 'OPEN' AND last_seen_at IS NOT NULL AND last_seen_at < ?`

const abandonUnseenSQL = `
	UPDATE vehicle_sessions
	SET status = 'ABANDONED', updated_at = ?
	WHERE status = 'OPEN' AND last_seen_at IS NULL AND created_at < ?`

func (r *SessionRepository) FindLatest(ctx context.Context, id anpr.Identity) (*anpr.Session, error) {
	var rows []VehicleSession
	err := r.db.WithContext(ctx).
		Where("organization = ? AND sub_id = ? AND reg_num = ?", id.Organization, id.SubID, id.RegNum).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (r *SessionRepository) FindOpen(ctx context.Context, id anpr.Identity) (*anpr.Session, error) {
	var rows []VehicleSession
	err := r.db.WithContext(ctx).
		Where("organization = ? AND sub_id = ? AND reg_num = ? AND status = ?",
			id.Organization, id.SubID, id.RegNum, string(anpr.StatusOpen)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

// UpsertOpen inserts s as a new OPEN session, or, when one is already open
// for the identity, only advances its last_seen_at. The bool reports whether
// a row was inserted.
func (r *SessionRepository) UpsertOpen(ctx context.Context, s *anpr.Session) (*anpr.Session, bool, error) {
	if s.Entry == nil {
		return nil, false, fmt.Errorf("open session requires an entry point")
	}

	var row VehicleSession
	tx := r.db.WithContext(ctx).Raw(upsertOpenSQL,
		s.ID, s.Organization, s.SubID, s.RegNum, s.Province,
		s.Entry.Time, s.Entry.CamID, s.Entry.LogID,
		s.LastSeenAt, s.CreatedAt, s.UpdatedAt,
	).Scan(&row)
	if isUniqueViolation(tx.Error) {
		return nil, false, ErrDuplicateOpen
	}
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, false, errors.New("upsert returned no row")
	}
	return row.toDomain(), row.Inserted, nil
}

// TouchOpen advances last_seen_at on the OPEN session for id. It returns nil
// when no session is open.
func (r *SessionRepository) TouchOpen(ctx context.Context, id anpr.Identity, seenAt, now time.Time) (*anpr.Session, error) {
	var row VehicleSession
	tx := r.db.WithContext(ctx).Raw(touchOpenSQL,
		seenAt, now, id.Organization, id.SubID, id.RegNum,
	).Scan(&row)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	return row.toDomain(), nil
}

// CloseOpen moves the OPEN session for id to CLOSED in one conditional
// update. A nil session means nothing was OPEN at update time.
func (r *SessionRepository) CloseOpen(ctx context.Context, id anpr.Identity, exit anpr.SessionPoint, now time.Time) (*anpr.Session, error) {
	var row VehicleSession
	tx := r.db.WithContext(ctx).Raw(closeOpenSQL,
		exit.Time, exit.CamID, exit.LogID, exit.Time, now,
		id.Organization, id.SubID, id.RegNum,
	).Scan(&row)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	return row.toDomain(), nil
}

func (r *SessionRepository) FinalizeClose(ctx context.Context, sessionID string, durationSec int64, lockedUntil, now time.Time) error {
	return r.db.WithContext(ctx).Exec(finalizeCloseSQL, durationSec, lockedUntil, now, sessionID).Error
}

func (r *SessionRepository) InsertConflict(ctx context.Context, s *anpr.Session) error {
	if s.Exit == nil {
		return fmt.Errorf("conflict session requires an exit point")
	}
	return r.db.WithContext(ctx).Exec(insertConflictSQL,
		s.ID, s.Organization, s.SubID, s.RegNum, s.Province,
		s.Exit.Time, s.Exit.CamID, s.Exit.LogID,
		s.LastSeenAt, s.LockedUntil, s.CreatedAt, s.UpdatedAt,
	).Error
}

// AbandonStale marks OPEN sessions last seen before cutoff as ABANDONED.
func (r *SessionRepository) AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Exec(abandonSeenSQL, now, cutoff)
	return tx.RowsAffected, tx.Error
}

// AbandonUnseen marks OPEN sessions that were never seen and were created
// before cutoff as ABANDONED.
func (r *SessionRepository) AbandonUnseen(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Exec(abandonUnseenSQL, now, cutoff)
	return tx.RowsAffected, tx.Error
}

func (r *SessionRepository) List(ctx context.Context, f anpr.SessionFilter) ([]anpr.Session, error) {
	query := r.db.WithContext(ctx).Model(&VehicleSession{})

	if f.Organization != "" {
		query = query.Where("organization = ?", f.Organization)
	}
	if f.SubID != "" {
		query = query.Where("sub_id = ?", f.SubID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", string(f.Status))
	}

	query = query.Order("entry_time DESC NULLS LAST").Order("created_at DESC")

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var rows []VehicleSession
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]anpr.Session, 0, len(rows))
	for i := range rows {
		result = append(result, *rows[i].toDomain())
	}
	return result, nil
}

func (v *VehicleSession) toDomain() *anpr.Session {
	s := &anpr.Session{
		ID: v.ID,
		Identity: anpr.Identity{
			Organization: v.Organization,
			SubID:        v.SubID,
			RegNum:       v.RegNum,
		},
		Province:    v.Province,
		Status:      anpr.SessionStatus(v.Status),
		DurationSec: v.DurationSec,
		LastSeenAt:  v.LastSeenAt,
		LockedUntil: v.LockedUntil,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
	if v.EntryTime != nil {
		s.Entry = &anpr.SessionPoint{Time: *v.EntryTime, CamID: deref(v.EntryCamID), LogID: deref(v.EntryLogID)}
	}
	if v.ExitTime != nil {
		s.Exit = &anpr.SessionPoint{Time: *v.ExitTime, CamID: deref(v.ExitCamID), LogID: deref(v.ExitLogID)}
	}
	return s
}

// isUniqueViolation matches both translated and raw driver errors; raw
// queries bypass gorm's error translation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
