package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"anpr-session-service/internal/domain/anpr"
	"anpr-session-service/internal/repository"
	"anpr-session-service/internal/utils"
)

// Recognizer runs plate detection and OCR on one image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (*anpr.PlateReading, error)
}

// EvidenceStore uploads an image and returns its public URL.
type EvidenceStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type PlateReadStore interface {
	CreatePlateRead(ctx context.Context, read *repository.PlateRead) error
	FindWatchlistHits(ctx context.Context, organization, regNum string) ([]anpr.WatchlistHit, error)
	FindPlateReads(ctx context.Context, f repository.PlateReadFilter) ([]repository.PlateRead, error)
}

type SessionLister interface {
	List(ctx context.Context, f anpr.SessionFilter) ([]anpr.Session, error)
}

// EvidencePaths are object key prefixes. The literal "subId" in a prefix is
// replaced by the subject id of the camera's organization.
type EvidencePaths struct {
	Original  string
	Processed string
	Issue     string
}

type Dependencies struct {
	Reads      PlateReadStore
	Sessions   SessionLister
	Normalizer *Normalizer
	Resolver   *SessionResolver
	Reaper     *SessionReaper
	Recognizer Recognizer
	Evidence   EvidenceStore
	Paths      EvidencePaths
	Engine     string
}

type ANPRService struct {
	reads      PlateReadStore
	sessions   SessionLister
	normalizer *Normalizer
	resolver   *SessionResolver
	reaper     *SessionReaper
	recognizer Recognizer
	evidence   EvidenceStore
	paths      EvidencePaths
	engine     string
	log        zerolog.Logger
	now        func() time.Time
	objectID   func() (string, error)
}

func NewANPRService(deps Dependencies, log zerolog.Logger) *ANPRService {
	return &ANPRService{
		reads:      deps.Reads,
		sessions:   deps.Sessions,
		normalizer: deps.Normalizer,
		resolver:   deps.Resolver,
		reaper:     deps.Reaper,
		recognizer: deps.Recognizer,
		evidence:   deps.Evidence,
		paths:      deps.Paths,
		engine:     deps.Engine,
		log:        log,
		now:        time.Now,
		objectID:   func() (string, error) { return gonanoid.New() },
	}
}

// Predict recognizes an uploaded image from camID and runs the result
// through the read pipeline.
func (s *ANPRService) Predict(ctx context.Context, camID string, image []byte) (*anpr.ProcessResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	cam, subID, err := s.normalizer.Lookup(ctx, camID)
	if err != nil {
		return nil, err
	}

	capturedAt := s.now()
	reading, err := s.recognizer.Recognize(ctx, image)
	if err != nil {
		s.log.Error().Err(err).Str("cam_id", camID).Msg("recognition failed")
		return nil, fmt.Errorf("recognize image from camera %s: %w", camID, err)
	}
	return s.processReading(ctx, cam, subID, reading, capturedAt)
}

// ProcessSnapshot handles an image fetched after a camera alarm.
func (s *ANPRService) ProcessSnapshot(ctx context.Context, alarm anpr.Alarm, image []byte) error {
	cam, subID, err := s.normalizer.LookupAddress(ctx, alarm.MACAddress, alarm.IPAddress)
	if err != nil {
		return err
	}

	capturedAt := s.now()
	if alarm.DateTime != "" {
		if t, perr := time.Parse(time.RFC3339, alarm.DateTime); perr == nil {
			capturedAt = t
		}
	}

	reading, err := s.recognizer.Recognize(ctx, image)
	if err != nil {
		return fmt.Errorf("recognize snapshot from %s: %w", alarm.IPAddress, err)
	}

	result, err := s.processReading(ctx, cam, subID, reading, capturedAt)
	if err != nil {
		return err
	}

	ev := s.log.Info().
		Str("cam_id", cam.CamID).
		Str("ip", alarm.IPAddress).
		Str("read_status", string(result.ReadStatus))
	if result.Session != nil {
		ev = ev.Str("verdict", string(result.Session.Verdict)).Str("reason", string(result.Session.Reason))
	}
	ev.Msg("alarm snapshot processed")
	return nil
}

func (s *ANPRService) processReading(ctx context.Context, cam *anpr.Camera, subID string, reading *anpr.PlateReading, capturedAt time.Time) (*anpr.ProcessResult, error) {
	id, err := s.objectID()
	if err != nil {
		return nil, fmt.Errorf("generate evidence id: %w", err)
	}

	switch reading.ReadStatus {
	case anpr.ReadComplete:
		if len(reading.OriginalImage) == 0 || len(reading.CroppedImage) == 0 {
			return nil, fmt.Errorf("%w: missing images for read status %q", ErrInvalidInput, reading.ReadStatus)
		}
		ev, err := s.normalizer.Normalize(anpr.RawReading{
			CamID:      cam.CamID,
			RegNum:     reading.RegNum,
			Province:   reading.Province,
			Confidence: anpr.Confidence{Plate: reading.PlateConfidence, OCR: reading.OCRConfidence},
			CapturedAt: capturedAt,
		}, cam, subID)
		if err != nil {
			return nil, err
		}

		originalURL, err := s.upload(ctx, evidenceKey(s.paths.Original, subID, id+".jpg"), reading.OriginalImage)
		if err != nil {
			return nil, err
		}
		processedURL, err := s.upload(ctx, evidenceKey(s.paths.Processed, subID, "cropped_"+id+".jpg"), reading.CroppedImage)
		if err != nil {
			return nil, err
		}
		ev.Evidence = anpr.Evidence{OriginalURL: originalURL, ProcessedURL: processedURL}

		raw := map[string]interface{}{
			"latency_ms":  reading.LatencyMs,
			"read_status": string(reading.ReadStatus),
		}
		return s.commit(ctx, ev, reading.RegNum, raw)

	case anpr.ReadNoText:
		if len(reading.CroppedImage) == 0 {
			return nil, fmt.Errorf("%w: missing cropped image for read status %q", ErrInvalidInput, reading.ReadStatus)
		}
		url, err := s.upload(ctx, evidenceKey(s.paths.Issue, subID, id+".jpg"), reading.CroppedImage)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("cam_id", cam.CamID).Str("url", url).Msg("plate found but text unreadable")
		return &anpr.ProcessResult{ReadStatus: reading.ReadStatus, Evidence: anpr.Evidence{ProcessedURL: url}}, nil

	case anpr.ReadNoPlate:
		if len(reading.OriginalImage) == 0 {
			return nil, fmt.Errorf("%w: missing original image for read status %q", ErrInvalidInput, reading.ReadStatus)
		}
		url, err := s.upload(ctx, evidenceKey(s.paths.Issue, subID, id+".jpg"), reading.OriginalImage)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("cam_id", cam.CamID).Str("url", url).Msg("no plate detected")
		return &anpr.ProcessResult{ReadStatus: reading.ReadStatus, Evidence: anpr.Evidence{OriginalURL: url}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown read status %q", ErrInvalidInput, reading.ReadStatus)
	}
}

// ProcessIncomingEvent handles a reading that was recognized elsewhere.
func (s *ANPRService) ProcessIncomingEvent(ctx context.Context, payload anpr.ReadPayload) (*anpr.ProcessResult, error) {
	if payload.Plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if payload.CameraID == "" {
		return nil, fmt.Errorf("%w: camera_id is required", ErrInvalidInput)
	}
	if payload.EventTime.IsZero() {
		return nil, fmt.Errorf("%w: event_time is required", ErrInvalidInput)
	}

	cam, subID, err := s.normalizer.Lookup(ctx, payload.CameraID)
	if err != nil {
		return nil, err
	}

	ev, err := s.normalizer.Normalize(anpr.RawReading{
		CamID:      payload.CameraID,
		RegNum:     payload.Plate,
		Province:   payload.Province,
		Confidence: anpr.Confidence{Plate: payload.Confidence},
		CapturedAt: payload.EventTime,
		Evidence:   anpr.Evidence{OriginalURL: payload.SnapshotURL},
	}, cam, subID)
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, ev, payload.Plate, payload.RawPayload)
}

// commit logs the read, links the event to the log record and resolves the
// session.
func (s *ANPRService) commit(ctx context.Context, ev anpr.PlateEvent, rawRegNum string, raw map[string]interface{}) (*anpr.ProcessResult, error) {
	read := repository.NewPlateRead(ev, rawRegNum, s.engine, raw)
	if err := s.reads.CreatePlateRead(ctx, read); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", ev.RegNum).
			Str("cam_id", ev.CamID).
			Msg("failed to log plate read")
		return nil, &StorageError{
			Op:        "log_read",
			Identity:  ev.Identity,
			Direction: ev.Direction,
			EventTime: ev.EventTime,
			Err:       err,
		}
	}
	ev.SourceLogID = read.LogID()

	s.log.Info().
		Int64("log_id", read.ID).
		Str("plate", ev.RegNum).
		Str("raw_plate", rawRegNum).
		Str("cam_id", ev.CamID).
		Str("direction", string(ev.Direction)).
		Time("event_time", ev.EventTime).
		Msg("saved plate read")

	session, err := s.resolver.Resolve(ctx, ev)
	if err != nil {
		return nil, err
	}

	hits, err := s.reads.FindWatchlistHits(ctx, ev.Organization, ev.RegNum)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("plate", ev.RegNum).
			Msg("failed to find watchlists for plate")
		hits = nil
	}
	if len(hits) > 0 {
		s.log.Info().
			Str("plate", ev.RegNum).
			Str("organization", ev.Organization).
			Int("hits_count", len(hits)).
			Msg("plate found in watchlists")
		for _, hit := range hits {
			s.log.Debug().
				Int64("watchlist_id", hit.WatchlistID).
				Str("watchlist_name", hit.WatchlistName).
				Str("watchlist_type", hit.WatchlistType).
				Msg("watchlist hit")
		}
	}
	if hits == nil {
		hits = []anpr.WatchlistHit{}
	}

	return &anpr.ProcessResult{
		ReadStatus: anpr.ReadComplete,
		LogID:      ev.SourceLogID,
		Plate:      ev.RegNum,
		Evidence:   ev.Evidence,
		Session:    &session,
		Hits:       hits,
	}, nil
}

func (s *ANPRService) upload(ctx context.Context, key string, data []byte) (string, error) {
	url, err := s.evidence.Upload(ctx, key, data, "image/jpeg")
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to upload evidence")
		return "", fmt.Errorf("upload evidence %s: %w", key, err)
	}
	return url, nil
}

func evidenceKey(prefix, subID, name string) string {
	prefix = strings.Trim(strings.ReplaceAll(prefix, "subId", subID), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (s *ANPRService) FindPlateReads(ctx context.Context, plateQuery, organization *string, from, to *string, limit, offset int) ([]PlateReadInfo, error) {
	var f repository.PlateReadFilter
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			f.RegNum = &normalized
		}
	}
	if organization != nil && *organization != "" {
		f.Organization = organization
	}

	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		f.From = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		f.To = &t
	}

	f.Limit, f.Offset = page(limit, offset)

	reads, err := s.reads.FindPlateReads(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to find plate reads: %w", err)
	}

	result := make([]PlateReadInfo, 0, len(reads))
	for _, r := range reads {
		result = append(result, PlateReadInfo{
			ID:              r.ID,
			Organization:    r.Organization,
			CamID:           r.CamID,
			Direction:       r.Direction,
			RegNum:          r.RegNum,
			RawRegNum:       r.RawRegNum,
			Province:        r.Province,
			PlateConfidence: r.PlateConfidence,
			OCRConfidence:   r.OCRConfidence,
			OriginalURL:     r.OriginalURL,
			ProcessedURL:    r.ProcessedURL,
			EventTime:       r.EventTime,
		})
	}

	return result, nil
}

func (s *ANPRService) ListSessions(ctx context.Context, f anpr.SessionFilter) ([]anpr.Session, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	f.Limit, f.Offset = page(f.Limit, f.Offset)

	sessions, err := s.sessions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *ANPRService) RunReapSweep(ctx context.Context) (ReapResult, error) {
	return s.reaper.RunReapSweep(ctx)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type PlateReadInfo struct {
	ID              int64     `json:"id"`
	Organization    string    `json:"organization"`
	CamID           string    `json:"cam_id"`
	Direction       *string   `json:"direction,omitempty"`
	RegNum          string    `json:"reg_num"`
	RawRegNum       string    `json:"raw_reg_num"`
	Province        *string   `json:"province,omitempty"`
	PlateConfidence *float64  `json:"plate_confidence,omitempty"`
	OCRConfidence   *float64  `json:"ocr_confidence,omitempty"`
	OriginalURL     *string   `json:"original_url,omitempty"`
	ProcessedURL    *string   `json:"processed_url,omitempty"`
	EventTime       time.Time `json:"event_time"`
}
