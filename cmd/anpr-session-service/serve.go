package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"anpr-session-service/internal/capture"
	"anpr-session-service/internal/db"
	httpapi "anpr-session-service/internal/http"
	"anpr-session-service/internal/recognition"
	"anpr-session-service/internal/repository"
	"anpr-session-service/internal/service"
	"anpr-session-service/internal/storage"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, alarm capture and session reaper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		gdb, closeDB, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDB()

		if autoMigrate {
			if err := migrate(ctx, gdb); err != nil {
				return err
			}
		}

		publisher := newPublisher()
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing publisher")
			}
		}()

		var evidence service.EvidenceStore = storage.NoopStore{}
		if cfg.Spaces.Endpoint != "" && cfg.Spaces.Bucket != "" {
			store, err := storage.NewSpacesStore(ctx, storage.SpacesConfig{
				Endpoint: cfg.Spaces.Endpoint,
				Region:   cfg.Spaces.Region,
				Bucket:   cfg.Spaces.Bucket,
				Key:      cfg.Spaces.Key,
				Secret:   cfg.Spaces.Secret,
			})
			if err != nil {
				return err
			}
			evidence = store
			logger.Info().Str("bucket", cfg.Spaces.Bucket).Msg("evidence upload enabled")
		} else {
			logger.Warn().Msg("evidence upload disabled (spaces.endpoint or spaces.bucket not set)")
		}

		sessions := repository.NewSessionRepository(gdb)
		reads := repository.NewANPRRepository(gdb)
		cameras := repository.NewCameraRepository(gdb)

		resolver := service.NewSessionResolver(sessions, service.ResolverConfig{
			MinDuration:  cfg.Session.MinDuration,
			CloseLock:    cfg.Session.CloseLock,
			ConflictLock: cfg.Session.ConflictLock,
		}, publisher, logger.With().Str("component", "resolver").Logger())

		reaper := newReaper(gdb, publisher)

		anprService := service.NewANPRService(service.Dependencies{
			Reads:      reads,
			Sessions:   sessions,
			Normalizer: service.NewNormalizer(cameras, cfg.Session.MinPlateLength),
			Resolver:   resolver,
			Reaper:     reaper,
			Recognizer: recognition.NewClient(recognition.Config{
				BaseURL: cfg.Recognition.URL,
				Timeout: cfg.Recognition.Timeout,
			}),
			Evidence: evidence,
			Paths: service.EvidencePaths{
				Original:  cfg.Spaces.OriginalPrefix,
				Processed: cfg.Spaces.ProcessedPrefix,
				Issue:     cfg.Spaces.IssuePrefix,
			},
			Engine: cfg.Recognition.Engine,
		}, logger.With().Str("component", "anpr").Logger())

		coordinator := capture.NewCoordinator(
			capture.NewHikClient(cfg.Camera.Username, cfg.Camera.Password, cfg.Camera.SnapshotPath, cfg.Capture.FetchTimeout),
			func(ctx context.Context, req capture.Request, image []byte) error {
				return anprService.ProcessSnapshot(ctx, req.Alarm, image)
			},
			capture.NewGate(cfg.Capture.SnapshotCooldown),
			capture.Options{
				MaxConcurrent:  cfg.Capture.MaxConcurrent,
				Retries:        cfg.Capture.Retries,
				BackoffBase:    cfg.Capture.BackoffBase,
				FetchTimeout:   cfg.Capture.FetchTimeout,
				ProcessTimeout: cfg.Capture.ProcessTimeout,
			},
			logger.With().Str("component", "capture").Logger(),
		)

		handler := httpapi.NewHandler(
			anprService,
			coordinator,
			capture.NewGate(cfg.Capture.AlarmCooldown),
			func(ctx context.Context) error { return db.HealthCheck(ctx, gdb) },
			logger,
		)
		router := httpapi.NewRouter(handler, httpapi.RouterConfig{
			Production:  cfg.IsProduction(),
			CORSOrigins: cfg.HTTP.CORSOrigins,
			JWTSecret:   cfg.Auth.JWTSecret,
		}, logger)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		reaper.Start(ctx)

		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server error")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		logger.Info().Msg("HTTP server stopped")

		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("captures cancelled before finishing")
		}

		reaper.Stop()
		logger.Info().Msg("session reaper stopped")

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply migrations before serving")
}
