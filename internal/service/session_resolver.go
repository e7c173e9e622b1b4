package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-session-service/internal/domain/anpr"
	"anpr-session-service/internal/events"
	"anpr-session-service/internal/repository"
)

// SessionStore is the conditional-write surface the resolver needs. Each
// method is one atomic statement against the store.
type SessionStore interface {
	FindLatest(ctx context.Context, id anpr.Identity) (*anpr.Session, error)
	FindOpen(ctx context.Context, id anpr.Identity) (*anpr.Session, error)
	UpsertOpen(ctx context.Context, s *anpr.Session) (*anpr.Session, bool, error)
	TouchOpen(ctx context.Context, id anpr.Identity, seenAt, now time.Time) (*anpr.Session, error)
	CloseOpen(ctx context.Context, id anpr.Identity, exit anpr.SessionPoint, now time.Time) (*anpr.Session, error)
	FinalizeClose(ctx context.Context, sessionID string, durationSec int64, lockedUntil, now time.Time) error
	InsertConflict(ctx context.Context, s *anpr.Session) error
}

type ResolverConfig struct {
	MinDuration  time.Duration
	CloseLock    time.Duration
	ConflictLock time.Duration
}

// maxOpenAttempts bounds the insert/update ping-pong when an OPEN session is
// being created and closed by other writers at the same time.
const maxOpenAttempts = 3

type SessionResolver struct {
	store     SessionStore
	cfg       ResolverConfig
	publisher events.Publisher
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func NewSessionResolver(store SessionStore, cfg ResolverConfig, publisher events.Publisher, log zerolog.Logger) *SessionResolver {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	return &SessionResolver{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Resolve applies one plate event to the session ledger. Policy outcomes
// (LOCKED, MIN_DURATION) come back as an IGNORED result, not as an error.
// Policy windows are measured against the event's capture time.
func (r *SessionResolver) Resolve(ctx context.Context, ev anpr.PlateEvent) (anpr.SessionResult, error) {
	if err := validateEvent(ev); err != nil {
		return anpr.SessionResult{}, err
	}

	latest, err := r.store.FindLatest(ctx, ev.Identity)
	if err != nil {
		return anpr.SessionResult{}, r.storageError("find_latest", ev, err)
	}
	if latest.LockedAt(ev.EventTime) {
		r.log.Debug().
			Str("reg_num", ev.RegNum).
			Str("organization", ev.Organization).
			Str("direction", string(ev.Direction)).
			Str("session_id", latest.ID).
			Time("locked_until", *latest.LockedUntil).
			Msg("event ignored: identity locked")
		return ignored(anpr.ReasonLocked, latest), nil
	}

	switch ev.Direction {
	case anpr.DirectionIn:
		return r.applyIn(ctx, ev)
	default:
		return r.applyOut(ctx, ev)
	}
}

func (r *SessionResolver) applyIn(ctx context.Context, ev anpr.PlateEvent) (anpr.SessionResult, error) {
	entry := ev.Point()
	seenAt := ev.EventTime

	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		now := r.now()
		candidate := &anpr.Session{
			ID:         r.newID(),
			Identity:   ev.Identity,
			Province:   optional(ev.Province),
			Status:     anpr.StatusOpen,
			Entry:      &entry,
			LastSeenAt: &seenAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		session, created, err := r.store.UpsertOpen(ctx, candidate)
		if errors.Is(err, repository.ErrDuplicateOpen) {
			// Someone else opened it between our statements; treat as a re-sighting.
			session, err = r.store.TouchOpen(ctx, ev.Identity, seenAt, now)
			if err != nil {
				return anpr.SessionResult{}, r.storageError("touch_open", ev, err)
			}
			if session == nil {
				continue
			}
		} else if err != nil {
			return anpr.SessionResult{}, r.storageError("upsert_open", ev, err)
		}

		topic := events.TopicSessionSeen
		if created {
			topic = events.TopicSessionOpened
			r.log.Info().
				Str("session_id", session.ID).
				Str("reg_num", ev.RegNum).
				Str("organization", ev.Organization).
				Str("cam_id", ev.CamID).
				Time("entry_time", ev.EventTime).
				Msg("session opened")
		} else {
			r.log.Debug().
				Str("session_id", session.ID).
				Str("reg_num", ev.RegNum).
				Time("last_seen_at", seenAt).
				Msg("open session re-sighted")
		}
		r.publish(ctx, topic, session, ev)
		return applied(session), nil
	}

	return anpr.SessionResult{}, r.storageError("upsert_open", ev,
		fmt.Errorf("open session kept changing after %d attempts", maxOpenAttempts))
}

func (r *SessionResolver) applyOut(ctx context.Context, ev anpr.PlateEvent) (anpr.SessionResult, error) {
	if r.cfg.MinDuration > 0 {
		open, err := r.store.FindOpen(ctx, ev.Identity)
		if err != nil {
			return anpr.SessionResult{}, r.storageError("find_open", ev, err)
		}
		if open != nil && open.Entry != nil && ev.EventTime.Sub(open.Entry.Time) < r.cfg.MinDuration {
			r.log.Debug().
				Str("session_id", open.ID).
				Str("reg_num", ev.RegNum).
				Time("entry_time", open.Entry.Time).
				Time("event_time", ev.EventTime).
				Msg("exit ignored: below minimum duration")
			return ignored(anpr.ReasonMinDuration, open), nil
		}
	}

	exit := ev.Point()
	now := r.now()

	// The conditional update decides the branch; a prior read is not trusted.
	closed, err := r.store.CloseOpen(ctx, ev.Identity, exit, now)
	if err != nil {
		return anpr.SessionResult{}, r.storageError("close_open", ev, err)
	}
	if closed != nil {
		return r.finishClose(ctx, ev, closed, now)
	}
	return r.recordConflict(ctx, ev, exit, now)
}

func (r *SessionResolver) finishClose(ctx context.Context, ev anpr.PlateEvent, closed *anpr.Session, now time.Time) (anpr.SessionResult, error) {
	var duration int64
	if closed.Entry != nil && closed.Exit != nil {
		duration = durationSeconds(closed.Entry.Time, closed.Exit.Time)
	}
	lockedUntil := ev.EventTime.Add(r.cfg.CloseLock)

	if err := r.store.FinalizeClose(ctx, closed.ID, duration, lockedUntil, now); err != nil {
		return anpr.SessionResult{}, r.storageError("finalize_close", ev, err)
	}
	closed.DurationSec = &duration
	closed.LockedUntil = &lockedUntil
	closed.UpdatedAt = now

	r.log.Info().
		Str("session_id", closed.ID).
		Str("reg_num", ev.RegNum).
		Str("organization", ev.Organization).
		Str("cam_id", ev.CamID).
		Int64("duration_sec", duration).
		Time("locked_until", lockedUntil).
		Msg("session closed")
	r.publish(ctx, events.TopicSessionClosed, closed, ev)
	return applied(closed), nil
}

func (r *SessionResolver) recordConflict(ctx context.Context, ev anpr.PlateEvent, exit anpr.SessionPoint, now time.Time) (anpr.SessionResult, error) {
	seenAt := ev.EventTime
	lockedUntil := ev.EventTime.Add(r.cfg.ConflictLock)
	conflict := &anpr.Session{
		ID:          r.newID(),
		Identity:    ev.Identity,
		Province:    optional(ev.Province),
		Status:      anpr.StatusConflict,
		Exit:        &exit,
		LastSeenAt:  &seenAt,
		LockedUntil: &lockedUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.InsertConflict(ctx, conflict); err != nil {
		return anpr.SessionResult{}, r.storageError("insert_conflict", ev, err)
	}

	r.log.Warn().
		Str("session_id", conflict.ID).
		Str("reg_num", ev.RegNum).
		Str("organization", ev.Organization).
		Str("cam_id", ev.CamID).
		Time("exit_time", ev.EventTime).
		Msg("exit without open session, conflict recorded")
	r.publish(ctx, events.TopicSessionConflict, conflict, ev)
	return applied(conflict), nil
}

func (r *SessionResolver) publish(ctx context.Context, topic string, s *anpr.Session, ev anpr.PlateEvent) {
	err := r.publisher.Publish(ctx, topic, events.SessionChanged{Session: s, CamID: ev.CamID, LogID: ev.SourceLogID})
	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Str("session_id", s.ID).Msg("failed to publish session event")
	}
}

func (r *SessionResolver) storageError(op string, ev anpr.PlateEvent, err error) error {
	r.log.Error().
		Err(err).
		Str("op", op).
		Str("organization", ev.Organization).
		Str("sub_id", ev.SubID).
		Str("reg_num", ev.RegNum).
		Str("direction", string(ev.Direction)).
		Time("event_time", ev.EventTime).
		Msg("session store failure")
	return &StorageError{
		Op:        op,
		Identity:  ev.Identity,
		Direction: ev.Direction,
		EventTime: ev.EventTime,
		Err:       err,
	}
}

func validateEvent(ev anpr.PlateEvent) error {
	switch {
	case ev.Organization == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	case ev.SubID == "":
		return fmt.Errorf("%w: sub_id is required", ErrInvalidInput)
	case ev.RegNum == "":
		return fmt.Errorf("%w: reg_num is required", ErrInvalidInput)
	case ev.CamID == "":
		return fmt.Errorf("%w: cam_id is required", ErrInvalidInput)
	case ev.SourceLogID == "":
		return fmt.Errorf("%w: source log id is required", ErrInvalidInput)
	case ev.EventTime.IsZero():
		return fmt.Errorf("%w: event_time is required", ErrInvalidInput)
	case !ev.Direction.Valid():
		return fmt.Errorf("%w: direction %q must be IN or OUT", ErrInvalidInput, ev.Direction)
	}
	return nil
}

func durationSeconds(entry, exit time.Time) int64 {
	d := int64(exit.Sub(entry) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func applied(s *anpr.Session) anpr.SessionResult {
	return anpr.SessionResult{Verdict: anpr.VerdictApplied, Session: s}
}

func ignored(reason anpr.IgnoreReason, s *anpr.Session) anpr.SessionResult {
	return anpr.SessionResult{Verdict: anpr.VerdictIgnored, Reason: reason, Session: s}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
