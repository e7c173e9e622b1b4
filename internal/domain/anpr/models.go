package anpr

import (
	"time"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

type SessionStatus string

const (
	StatusOpen      SessionStatus = "OPEN"
	StatusClosed    SessionStatus = "CLOSED"
	StatusConflict  SessionStatus = "CONFLICT"
	StatusAbandoned SessionStatus = "ABANDONED"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusConflict, StatusAbandoned:
		return true
	}
	return false
}

type ReadStatus string

const (
	ReadComplete ReadStatus = "complete"
	ReadNoText   ReadStatus = "no_text"
	ReadNoPlate  ReadStatus = "no_plate"
)

// Identity is the key a vehicle session is tracked under.
type Identity struct {
	Organization string `json:"organization"`
	SubID        string `json:"sub_id"`
	RegNum       string `json:"reg_num"`
}

// SessionPoint records one side (entry or exit) of a visit.
type SessionPoint struct {
	Time  time.Time `json:"time"`
	CamID string    `json:"cam_id"`
	LogID string    `json:"log_id"`
}

type Session struct {
	ID string `json:"id"`
	Identity
	Province    *string       `json:"province,omitempty"`
	Status      SessionStatus `json:"status"`
	Entry       *SessionPoint `json:"entry"`
	Exit        *SessionPoint `json:"exit"`
	DurationSec *int64        `json:"duration_sec"`
	LastSeenAt  *time.Time    `json:"last_seen_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
}

// LockedAt reports whether new events for the session's identity are
// suppressed at t.
func (s *Session) LockedAt(t time.Time) bool {
	return s != nil && s.LockedUntil != nil && t.Before(*s.LockedUntil)
}

type Evidence struct {
	OriginalURL  string `json:"original,omitempty"`
	ProcessedURL string `json:"processed,omitempty"`
}

type Confidence struct {
	Plate float64 `json:"plate_confidence"`
	OCR   float64 `json:"ocr_confidence"`
}

// PlateEvent is a committed, direction-tagged plate read ready for session
// resolution.
type PlateEvent struct {
	Identity
	CamID       string     `json:"cam_id"`
	Direction   Direction  `json:"direction"`
	Province    string     `json:"province,omitempty"`
	Confidence  Confidence `json:"confidence"`
	EventTime   time.Time  `json:"event_time"`
	Evidence    Evidence   `json:"evidence"`
	SourceLogID string     `json:"source_log_id"`
}

func (e PlateEvent) Point() SessionPoint {
	return SessionPoint{Time: e.EventTime, CamID: e.CamID, LogID: e.SourceLogID}
}

type Verdict string

const (
	VerdictApplied Verdict = "APPLIED"
	VerdictIgnored Verdict = "IGNORED"
)

type IgnoreReason string

const (
	ReasonLocked      IgnoreReason = "LOCKED"
	ReasonMinDuration IgnoreReason = "MIN_DURATION"
)

type SessionResult struct {
	Verdict Verdict      `json:"verdict"`
	Reason  IgnoreReason `json:"reason,omitempty"`
	Session *Session     `json:"session,omitempty"`
}

func (r SessionResult) Ignored() bool {
	return r.Verdict == VerdictIgnored
}

// PlateReading is what the recognition engine returns for one image.
type PlateReading struct {
	RegNum          string     `json:"regNum"`
	Province        string     `json:"province"`
	PlateConfidence float64    `json:"plate_confidence"`
	OCRConfidence   float64    `json:"ocr_confidence"`
	LatencyMs       float64    `json:"latencyMs"`
	ReadStatus      ReadStatus `json:"readStatus"`
	OriginalImage   []byte     `json:"-"`
	CroppedImage    []byte     `json:"-"`
}

// RawReading is a plate read before camera resolution.
type RawReading struct {
	CamID       string
	RegNum      string
	Province    string
	Confidence  Confidence
	CapturedAt  time.Time
	Evidence    Evidence
	SourceLogID string
}

type Camera struct {
	CamID        string    `json:"cam_id"`
	Organization string    `json:"organization"`
	Direction    Direction `json:"direction"`
	IPAddress    string    `json:"ip_address,omitempty"`
	MACAddress   string    `json:"mac_address,omitempty"`
}

type WatchlistHit struct {
	WatchlistID   int64  `json:"watchlist_id"`
	WatchlistName string `json:"watchlist_name"`
	WatchlistType string `json:"watchlist_type"`
}

type ProcessResult struct {
	ReadStatus ReadStatus     `json:"read_status"`
	LogID      string         `json:"log_id,omitempty"`
	Plate      string         `json:"plate,omitempty"`
	Evidence   Evidence       `json:"evidence"`
	Session    *SessionResult `json:"session,omitempty"`
	Hits       []WatchlistHit `json:"hits"`
}

// ReadPayload is an already-recognized reading submitted over the API.
type ReadPayload struct {
	CameraID    string                 `json:"camera_id"`
	Plate       string                 `json:"plate"`
	Province    string                 `json:"province,omitempty"`
	Confidence  float64                `json:"confidence"`
	EventTime   time.Time              `json:"event_time"`
	SnapshotURL string                 `json:"snapshot_url,omitempty"`
	RawPayload  map[string]interface{} `json:"raw_payload,omitempty"`
}

type SessionFilter struct {
	Organization string
	SubID        string
	Status       SessionStatus
	Limit        int
	Offset       int
}
