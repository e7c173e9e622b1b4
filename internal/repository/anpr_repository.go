package repository

import (
	"context"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"anpr-session-service/internal/domain/anpr"
)

type ANPRRepository struct {
	db *gorm.DB
}

func NewANPRRepository(db *gorm.DB) *ANPRRepository {
	return &ANPRRepository{db: db}
}

// PlateRead is the immutable log record of one recognized plate.
type PlateRead struct {
	ID              int64             `gorm:"primaryKey"`
	Organization    string            `gorm:"not null"`
	SubID           string            `gorm:"column:sub_id;not null"`
	CamID           string            `gorm:"column:cam_id;not null"`
	Direction       *string
	RegNum          string            `gorm:"not null"`
	RawRegNum       string            `gorm:"not null"`
	Province        *string
	PlateConfidence *float64
	OCRConfidence   *float64          `gorm:"column:ocr_confidence"`
	Engine          *string
	OriginalURL     *string           `gorm:"column:original_url"`
	ProcessedURL    *string           `gorm:"column:processed_url"`
	EventTime       time.Time         `gorm:"not null"`
	RawPayload      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time
}

func (PlateRead) TableName() string {
	return "plate_reads"
}

// LogID is the identifier sessions use to point back at this read.
func (p *PlateRead) LogID() string {
	return strconv.FormatInt(p.ID, 10)
}

type Watchlist struct {
	ID           int64  `gorm:"primaryKey"`
	Organization string `gorm:"not null"`
	Name         string `gorm:"not null"`
	Type         string `gorm:"not null"`
	Description  *string
	CreatedAt    time.Time
}

type WatchlistPlate struct {
	WatchlistID int64  `gorm:"primaryKey"`
	RegNum      string `gorm:"primaryKey"`
	Note        *string
	CreatedAt   time.Time
}

type PlateReadFilter struct {
	RegNum       *string
	Organization *string
	From, To     *time.Time
	Limit        int
	Offset       int
}

func (r *ANPRRepository) CreatePlateRead(ctx context.Context, read *PlateRead) error {
	if read.CreatedAt.IsZero() {
		read.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(read).Error
}

// NewPlateRead maps a committed plate event onto its log row.
func NewPlateRead(ev anpr.PlateEvent, rawRegNum, engine string, raw map[string]interface{}) *PlateRead {
	direction := string(ev.Direction)
	read := &PlateRead{
		Organization: ev.Organization,
		SubID:        ev.SubID,
		CamID:        ev.CamID,
		RegNum:       ev.RegNum,
		RawRegNum:    rawRegNum,
		EventTime:    ev.EventTime,
	}
	if direction != "" {
		read.Direction = &direction
	}
	if ev.Province != "" {
		read.Province = &ev.Province
	}
	if ev.Confidence.Plate != 0 {
		read.PlateConfidence = &ev.Confidence.Plate
	}
	if ev.Confidence.OCR != 0 {
		read.OCRConfidence = &ev.Confidence.OCR
	}
	if engine != "" {
		read.Engine = &engine
	}
	if ev.Evidence.OriginalURL != "" {
		read.OriginalURL = &ev.Evidence.OriginalURL
	}
	if ev.Evidence.ProcessedURL != "" {
		read.ProcessedURL = &ev.Evidence.ProcessedURL
	}
	if len(raw) > 0 {
		read.RawPayload = datatypes.JSONMap(raw)
	}
	return read
}

func (r *ANPRRepository) FindWatchlistHits(ctx context.Context, organization, regNum string) ([]anpr.WatchlistHit, error) {
	var hits []anpr.WatchlistHit

	err := r.db.WithContext(ctx).
		Table("watchlist_plates").
		Select("watchlists.id as watchlist_id, watchlists.name as watchlist_name, watchlists.type as watchlist_type").
		Joins("JOIN watchlists ON watchlist_plates.watchlist_id = watchlists.id").
		Where("watchlists.organization = ? AND watchlist_plates.reg_num = ?", organization, regNum).
		Scan(&hits).Error

	if err != nil {
		return nil, err
	}

	return hits, nil
}

func (r *ANPRRepository) FindPlateReads(ctx context.Context, f PlateReadFilter) ([]PlateRead, error) {
	query := r.db.WithContext(ctx).Model(&PlateRead{})

	if f.RegNum != nil {
		query = query.Where("reg_num = ?", *f.RegNum)
	}
	if f.Organization != nil {
		query = query.Where("organization = ?", *f.Organization)
	}
	if f.From != nil {
		query = query.Where("event_time >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("event_time <= ?", *f.To)
	}

	query = query.Order("event_time DESC")

	if f.Limit > 0 {
		if f.Limit > 100 {
			f.Limit = 100
		}
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var reads []PlateRead
	err := query.Find(&reads).Error
	return reads, err
}
