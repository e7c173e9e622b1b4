package events

import (
	"context"
	"time"

	"anpr-session-service/internal/domain/anpr"
)

const (
	TopicSessionOpened    = "anpr.session.opened"
	TopicSessionSeen      = "anpr.session.seen"
	TopicSessionClosed    = "anpr.session.closed"
	TopicSessionConflict  = "anpr.session.conflict"
	TopicSessionAbandoned = "anpr.session.abandoned"
)

type SessionChanged struct {
	Session *anpr.Session `json:"session"`
	CamID   string        `json:"cam_id"`
	LogID   string        `json:"log_id"`
}

type SessionsAbandoned struct {
	Count  int64     `json:"count"`
	Cutoff time.Time `json:"cutoff"`
}

// Publisher is the interface for emitting session events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
