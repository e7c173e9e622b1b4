package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"anpr-session-service/internal/events"
)

// ReapStore is the bulk update surface the reaper uses.
type ReapStore interface {
	AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	AbandonUnseen(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type ReapResult struct {
	Abandoned int64 `json:"abandoned_count"`
	Coalesced bool  `json:"coalesced,omitempty"`
}

// SessionReaper moves OPEN sessions that have gone quiet to ABANDONED. At
// most one sweep runs at a time; a tick that finds a sweep in flight is
// dropped.
type SessionReaper struct {
	store        ReapStore
	publisher    events.Publisher
	log          zerolog.Logger
	timeout      time.Duration
	interval     time.Duration
	sweepTimeout time.Duration
	now          func() time.Time

	running  *semaphore.Weighted
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSessionReaper(store ReapStore, publisher events.Publisher, log zerolog.Logger, timeout, interval time.Duration) *SessionReaper {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionReaper{
		store:        store,
		publisher:    publisher,
		log:          log,
		timeout:      timeout,
		interval:     interval,
		sweepTimeout: 30 * time.Second,
		now:          time.Now,
		running:      semaphore.NewWeighted(1),
		stopCh:       make(chan struct{}),
	}
}

// RunReapSweep runs both sweeps once. Zero matches is a normal result. When
// another sweep is already running the call returns immediately with
// Coalesced set.
func (r *SessionReaper) RunReapSweep(ctx context.Context) (ReapResult, error) {
	if !r.running.TryAcquire(1) {
		r.log.Debug().Msg("reap sweep already running, coalescing")
		return ReapResult{Coalesced: true}, nil
	}
	defer r.running.Release(1)

	now := r.now()
	cutoff := now.Add(-r.timeout)

	stale, staleErr := r.store.AbandonStale(ctx, cutoff, now)
	if staleErr != nil {
		r.log.Error().Err(staleErr).Time("cutoff", cutoff).Msg("failed to abandon stale sessions")
	}
	unseen, unseenErr := r.store.AbandonUnseen(ctx, cutoff, now)
	if unseenErr != nil {
		r.log.Error().Err(unseenErr).Time("cutoff", cutoff).Msg("failed to abandon unseen sessions")
	}

	result := ReapResult{Abandoned: stale + unseen}
	if result.Abandoned > 0 {
		r.log.Info().
			Int64("stale", stale).
			Int64("unseen", unseen).
			Time("cutoff", cutoff).
			Msg("sessions abandoned")
		event := events.SessionsAbandoned{Count: result.Abandoned, Cutoff: cutoff}
		if err := r.publisher.Publish(ctx, events.TopicSessionAbandoned, event); err != nil {
			r.log.Warn().Err(err).Msg("failed to publish abandon event")
		}
	} else {
		r.log.Debug().Time("cutoff", cutoff).Msg("reap sweep found nothing")
	}

	if err := errors.Join(staleErr, unseenErr); err != nil {
		return result, &StorageError{Op: "reap", EventTime: now, Err: err}
	}
	return result, nil
}

// Start schedules sweeps every interval until Stop is called or ctx ends.
func (r *SessionReaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.log.Info().
			Dur("interval", r.interval).
			Dur("timeout", r.timeout).
			Msg("session reaper started")

		for {
			select {
			case <-ctx.Done():
				r.log.Info().Msg("session reaper stopped")
				return
			case <-r.stopCh:
				r.log.Info().Msg("session reaper stopped")
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()
}

func (r *SessionReaper) tick() {
	// Detached from the loop context so a stop signal lets the sweep finish.
	ctx, cancel := context.WithTimeout(context.Background(), r.sweepTimeout)
	defer cancel()

	if _, err := r.RunReapSweep(ctx); err != nil {
		r.log.Error().Err(err).Msg("reap sweep failed, will retry next tick")
	}
}

// Stop prevents further sweeps and waits for an in-flight one to finish.
func (r *SessionReaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
