package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"anpr-session-service/internal/domain/anpr"
)

// ErrNotFound is returned by directory lookups that match nothing.
var ErrNotFound = errors.New("record not found")

type CameraRepository struct {
	db *gorm.DB
}

func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{db: db}
}

type CameraRow struct {
	CamID        string  `gorm:"column:cam_id;primaryKey"`
	Organization string  `gorm:"not null"`
	Direction    *string
	IPAddress    *string `gorm:"column:ip_address"`
	MACAddress   *string `gorm:"column:mac_address"`
	CreatedAt    time.Time
}

func (CameraRow) TableName() string {
	return "cameras"
}

type Subject struct {
	Organization string `gorm:"primaryKey"`
	SubID        string `gorm:"column:sub_id;not null"`
	CreatedAt    time.Time
}

func (Subject) TableName() string {
	return "subjects"
}

func (r *CameraRepository) FindCamera(ctx context.Context, camID string) (*anpr.Camera, error) {
	var row CameraRow
	err := r.db.WithContext(ctx).Where("cam_id = ?", camID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// FindCameraByAddress resolves an alarm source. The MAC address wins over
// the IP address when both are known.
func (r *CameraRepository) FindCameraByAddress(ctx context.Context, mac, ip string) (*anpr.Camera, error) {
	var row CameraRow
	query := r.db.WithContext(ctx)
	switch {
	case mac != "":
		query = query.Where("lower(mac_address) = ?", strings.ToLower(mac))
	case ip != "":
		query = query.Where("ip_address = ?", ip)
	default:
		return nil, ErrNotFound
	}

	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if mac != "" && ip != "" {
			return r.FindCameraByAddress(ctx, "", ip)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *CameraRepository) FindSubID(ctx context.Context, organization string) (string, error) {
	var subject Subject
	err := r.db.WithContext(ctx).Where("organization = ?", organization).First(&subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return subject.SubID, nil
}

func (c *CameraRow) toDomain() *anpr.Camera {
	cam := &anpr.Camera{
		CamID:        c.CamID,
		Organization: c.Organization,
	}
	if c.Direction != nil {
		cam.Direction = anpr.Direction(*c.Direction)
	}
	if c.IPAddress != nil {
		cam.IPAddress = *c.IPAddress
	}
	if c.MACAddress != nil {
		cam.MACAddress = *c.MACAddress
	}
	return cam
}
