package main

import (
	"context"

	"gorm.io/gorm"

	"anpr-session-service/internal/db"
	"anpr-session-service/internal/events"
	"anpr-session-service/internal/repository"
	"anpr-session-service/internal/service"
)

func openDatabase() (*gorm.DB, func(), error) {
	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return gdb, closeFn, nil
}

func newPublisher() events.Publisher {
	if cfg.NATS.URL == "" {
		logger.Info().Msg("session events disabled (nats.url not set)")
		return &events.NoopPublisher{}
	}
	pub, err := events.NewNATSPublisher(cfg.NATS.URL)
	if err != nil {
		logger.Error().Err(err).Str("nats_url", cfg.NATS.URL).Msg("failed to connect to NATS, session events disabled")
		return &events.NoopPublisher{}
	}
	logger.Info().Str("nats_url", cfg.NATS.URL).Msg("session events enabled")
	return pub
}

func newReaper(gdb *gorm.DB, publisher events.Publisher) *service.SessionReaper {
	return service.NewSessionReaper(
		repository.NewSessionRepository(gdb),
		publisher,
		logger.With().Str("component", "reaper").Logger(),
		cfg.Session.Timeout,
		cfg.Session.ReapInterval,
	)
}

func migrate(ctx context.Context, gdb *gorm.DB) error {
	if err := db.RunMigrations(ctx, gdb); err != nil {
		return err
	}
	logger.Info().Msg("migrations applied")
	return nil
}
