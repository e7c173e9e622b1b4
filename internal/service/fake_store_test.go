package service

import (
	"context"
	"sync"
	"time"

	"anpr-session-service/internal/domain/anpr"
	"anpr-session-service/internal/repository"
)

// fakeStore keeps sessions in memory. Every method holds the lock for its
// whole body, which gives the same single-statement atomicity as the
// Postgres repository.
type fakeStore struct {
	mu       sync.Mutex
	sessions []*anpr.Session

	errs map[string]error
	// duplicateOnce makes the next UpsertOpen behave as if another writer
	// inserted the OPEN row first.
	duplicateOnce bool
	// onAbandonStale runs before AbandonStale does its work.
	onAbandonStale func()

	calls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeStore) enter(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) add(s *anpr.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, cloneSession(s))
}

func (f *fakeStore) all() []anpr.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]anpr.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *cloneSession(s))
	}
	return out
}

func (f *fakeStore) byStatus(status anpr.SessionStatus) []anpr.Session {
	var out []anpr.Session
	for _, s := range f.all() {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeStore) openLocked(id anpr.Identity) *anpr.Session {
	for _, s := range f.sessions {
		if s.Identity == id && s.Status == anpr.StatusOpen {
			return s
		}
	}
	return nil
}

func (f *fakeStore) FindLatest(ctx context.Context, id anpr.Identity) (*anpr.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindLatest"); err != nil {
		return nil, err
	}
	var latest *anpr.Session
	for _, s := range f.sessions {
		if s.Identity != id {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			latest = s
		}
	}
	return cloneSession(latest), nil
}

func (f *fakeStore) FindOpen(ctx context.Context, id anpr.Identity) (*anpr.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindOpen"); err != nil {
		return nil, err
	}
	return cloneSession(f.openLocked(id)), nil
}

func (f *fakeStore) UpsertOpen(ctx context.Context, s *anpr.Session) (*anpr.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpsertOpen"); err != nil {
		return nil, false, err
	}
	if f.duplicateOnce {
		f.duplicateOnce = false
		winner := cloneSession(s)
		winner.ID = "winner-" + s.ID
		f.sessions = append(f.sessions, winner)
		return nil, false, repository.ErrDuplicateOpen
	}
	if open := f.openLocked(s.Identity); open != nil {
		touch(open, *s.LastSeenAt, s.UpdatedAt)
		return cloneSession(open), false, nil
	}
	f.sessions = append(f.sessions, cloneSession(s))
	return cloneSession(s), true, nil
}

func (f *fakeStore) TouchOpen(ctx context.Context, id anpr.Identity, seenAt, now time.Time) (*anpr.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TouchOpen"); err != nil {
		return nil, err
	}
	open := f.openLocked(id)
	if open == nil {
		return nil, nil
	}
	touch(open, seenAt, now)
	return cloneSession(open), nil
}

func (f *fakeStore) CloseOpen(ctx context.Context, id anpr.Identity, exit anpr.SessionPoint, now time.Time) (*anpr.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CloseOpen"); err != nil {
		return nil, err
	}
	open := f.openLocked(id)
	if open == nil {
		return nil, nil
	}
	e := exit
	seen := exit.Time
	open.Status = anpr.StatusClosed
	open.Exit = &e
	open.LastSeenAt = &seen
	open.UpdatedAt = now
	return cloneSession(open), nil
}

func (f *fakeStore) FinalizeClose(ctx context.Context, sessionID string, durationSec int64, lockedUntil, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FinalizeClose"); err != nil {
		return err
	}
	for _, s := range f.sessions {
		if s.ID == sessionID && s.Status == anpr.StatusClosed {
			d, l := durationSec, lockedUntil
			s.DurationSec = &d
			s.LockedUntil = &l
			s.UpdatedAt = now
		}
	}
	return nil
}

func (f *fakeStore) InsertConflict(ctx context.Context, s *anpr.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("InsertConflict"); err != nil {
		return err
	}
	f.sessions = append(f.sessions, cloneSession(s))
	return nil
}

func (f *fakeStore) AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if f.onAbandonStale != nil {
		f.onAbandonStale()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AbandonStale"); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range f.sessions {
		if s.Status == anpr.StatusOpen && s.LastSeenAt != nil && s.LastSeenAt.Before(cutoff) {
			s.Status = anpr.StatusAbandoned
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AbandonUnseen(ctx context.Context, cutoff, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AbandonUnseen"); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range f.sessions {
		if s.Status == anpr.StatusOpen && s.LastSeenAt == nil && s.CreatedAt.Before(cutoff) {
			s.Status = anpr.StatusAbandoned
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) List(ctx context.Context, filter anpr.SessionFilter) ([]anpr.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("List"); err != nil {
		return nil, err
	}
	var out []anpr.Session
	for _, s := range f.sessions {
		if filter.Organization != "" && s.Organization != filter.Organization {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, *cloneSession(s))
	}
	return out, nil
}

func touch(s *anpr.Session, seenAt, now time.Time) {
	if s.LastSeenAt == nil || seenAt.After(*s.LastSeenAt) {
		t := seenAt
		s.LastSeenAt = &t
	}
	s.UpdatedAt = now
}

func cloneSession(s *anpr.Session) *anpr.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Entry != nil {
		e := *s.Entry
		c.Entry = &e
	}
	if s.Exit != nil {
		e := *s.Exit
		c.Exit = &e
	}
	if s.DurationSec != nil {
		d := *s.DurationSec
		c.DurationSec = &d
	}
	if s.LastSeenAt != nil {
		t := *s.LastSeenAt
		c.LastSeenAt = &t
	}
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		c.LockedUntil = &t
	}
	if s.Province != nil {
		p := *s.Province
		c.Province = &p
	}
	return &c
}

type publishedEvent struct {
	topic string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return p.err
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}
