package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"anpr-session-service/internal/domain/anpr"
)

var ErrCooledDown = errors.New("snapshot cooldown active")

type Fetcher interface {
	Fetch(ctx context.Context, host string) ([]byte, error)
}

// ProcessFunc consumes a fetched image. It runs while the capture slot is
// still held.
type ProcessFunc func(ctx context.Context, req Request, image []byte) error

type Request struct {
	Key   string
	Host  string
	Alarm anpr.Alarm
}

type Options struct {
	MaxConcurrent  int
	Retries        int
	BackoffBase    time.Duration
	FetchTimeout   time.Duration
	ProcessTimeout time.Duration
}

// Task is the handle of one submitted capture. Its outcome is for logging
// and tests; callers do not branch on it.
type Task struct {
	ID   string
	Key  string
	done chan struct{}
	err  error
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome once Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Coordinator runs fetch+process pipelines in the background with a fixed
// number of concurrent slots.
type Coordinator struct {
	fetcher   Fetcher
	process   ProcessFunc
	snapshots *Gate
	slots     *semaphore.Weighted
	opts      Options
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(fetcher Fetcher, process ProcessFunc, snapshots *Gate, opts Options, log zerolog.Logger) *Coordinator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 2
	}
	if opts.Retries < 1 {
		opts.Retries = 2
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		fetcher:   fetcher,
		process:   process,
		snapshots: snapshots,
		slots:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit starts a capture in the background and returns immediately.
func (c *Coordinator) Submit(req Request) *Task {
	t := &Task{ID: uuid.NewString(), Key: req.Key, done: make(chan struct{})}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("capture panicked: %v", r)
			}
			c.complete(t)
		}()
		t.err = c.run(req)
	}()
	return t
}

func (c *Coordinator) run(req Request) error {
	if c.snapshots != nil && !c.snapshots.ShouldTrigger(req.Key) {
		return ErrCooledDown
	}

	if err := c.slots.Acquire(c.ctx, 1); err != nil {
		return fmt.Errorf("waiting for capture slot: %w", err)
	}
	defer c.slots.Release(1)

	image, err := c.fetch(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ProcessTimeout)
	defer cancel()
	return c.process(ctx, req, image)
}

func (c *Coordinator) fetch(req Request) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.Retries-1)), c.ctx)

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		defer cancel()

		image, err := c.fetcher.Fetch(ctx, req.Host)
		if err == nil {
			c.log.Debug().
				Str("key", req.Key).
				Int("attempt", attempt).
				Int("size", len(image)).
				Msg("snapshot fetched")
			return image, nil
		}
		if !Transient(err) {
			return nil, backoff.Permanent(err)
		}
		c.log.Warn().
			Err(err).
			Str("key", req.Key).
			Str("host", req.Host).
			Int("attempt", attempt).
			Msg("snapshot fetch failed, retrying")
		return nil, err
	}

	image, err := backoff.RetryWithData(op, policy)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot from %s after %d attempt(s): %w", req.Host, attempt, err)
	}
	return image, nil
}

func (c *Coordinator) complete(t *Task) {
	switch {
	case t.err == nil:
		c.log.Debug().Str("task_id", t.ID).Str("key", t.Key).Msg("capture finished")
	case errors.Is(t.err, ErrCooledDown):
		c.log.Debug().Str("task_id", t.ID).Str("key", t.Key).Msg("capture skipped: snapshot cooldown")
	default:
		c.log.Error().Err(t.err).Str("task_id", t.ID).Str("key", t.Key).Msg("capture failed")
	}
}

// Shutdown waits for in-flight captures until ctx ends, then cancels the
// rest.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}
