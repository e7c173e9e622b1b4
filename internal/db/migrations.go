package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS subjects (
		organization    TEXT PRIMARY KEY,
		sub_id          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		cam_id          TEXT PRIMARY KEY,
		organization    TEXT NOT NULL,
		direction       TEXT CHECK (direction IN ('IN', 'OUT')),
		ip_address      TEXT,
		mac_address     TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cameras_organization ON cameras(organization);`,
	`CREATE INDEX IF NOT EXISTS idx_cameras_ip_address ON cameras(ip_address);`,
	`CREATE INDEX IF NOT EXISTS idx_cameras_mac_address ON cameras(lower(mac_address));`,
	`CREATE TABLE IF NOT EXISTS plate_reads (
		id               BIGSERIAL PRIMARY KEY,
		organization     TEXT NOT NULL,
		sub_id           TEXT NOT NULL,
		cam_id           TEXT NOT NULL,
		direction        TEXT,
		reg_num          TEXT NOT NULL,
		raw_reg_num      TEXT NOT NULL,
		province         TEXT,
		plate_confidence NUMERIC(6,4),
		ocr_confidence   NUMERIC(6,4),
		engine           TEXT,
		original_url     TEXT,
		processed_url    TEXT,
		event_time       TIMESTAMPTZ NOT NULL,
		raw_payload      JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_reads_reg_num ON plate_reads(reg_num);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_reads_event_time ON plate_reads(event_time);`,
	`CREATE TABLE IF NOT EXISTS vehicle_sessions (
		id              UUID PRIMARY KEY,
		organization    TEXT NOT NULL,
		sub_id          TEXT NOT NULL,
		reg_num         TEXT NOT NULL,
		province        TEXT,
		status          TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED', 'CONFLICT', 'ABANDONED')),
		entry_time      TIMESTAMPTZ,
		entry_cam_id    TEXT,
		entry_log_id    TEXT,
		exit_time       TIMESTAMPTZ,
		exit_cam_id     TEXT,
		exit_log_id     TEXT,
		duration_sec    BIGINT,
		last_seen_at    TIMESTAMPTZ,
		locked_until    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	// At most one OPEN session per (organization, sub_id, reg_num).
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicle_sessions_open
		ON vehicle_sessions(organization, sub_id, reg_num)
		WHERE status = 'OPEN';`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_identity
		ON vehicle_sessions(organization, sub_id, reg_num, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_listing
		ON vehicle_sessions(organization, sub_id, status, entry_time DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_entry_cam
		ON vehicle_sessions(organization, entry_cam_id);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_reap
		ON vehicle_sessions(status, last_seen_at);`,
	`CREATE TABLE IF NOT EXISTS watchlists (
		id              BIGSERIAL PRIMARY KEY,
		organization    TEXT NOT NULL,
		name            TEXT NOT NULL,
		type            TEXT NOT NULL,
		description     TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_watchlists_org_name ON watchlists(organization, name);`,
	`CREATE TABLE IF NOT EXISTS watchlist_plates (
		watchlist_id    BIGINT REFERENCES watchlists(id) ON DELETE CASCADE,
		reg_num         TEXT NOT NULL,
		note            TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (watchlist_id, reg_num)
	);`,
}

func RunMigrations(ctx context.Context, db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
