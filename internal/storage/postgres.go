package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vitalguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/vitalguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			source_type TEXT NOT NULL,
			action_required BOOLEAN NOT NULL,
			acknowledged_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			overall DOUBLE PRECISION NOT NULL,
			cardiac DOUBLE PRECISION NOT NULL,
			metabolic DOUBLE PRECISION NOT NULL,
			respiratory DOUBLE PRECISION NOT NULL,
			neurological DOUBLE PRECISION NOT NULL,
			trend TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_ts ON assessments(ts)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			fail_reason TEXT,
			trigger_json JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.HealthAlert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, title, message, severity, source_type, action_required, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET acknowledged_at = EXCLUDED.acknowledged_at`,
		alert.ID,
		alert.CreatedAt.UTC(),
		alert.Title,
		alert.Message,
		string(alert.Severity),
		string(alert.SourceType),
		alert.ActionRequired,
		nullableTime(alert.AcknowledgedAt),
	)
	return err
}

func (s *postgresStore) SaveAssessment(ctx context.Context, ra model.RiskAssessment) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (ts, overall, cardiac, metabolic, respiratory, neurological, trend)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ra.LastUpdated.UTC(),
		ra.Overall,
		ra.Cardiac,
		ra.Metabolic,
		ra.Respiratory,
		ra.Neurological,
		string(ra.Trend),
	)
	return err
}

func (s *postgresStore) SaveEpisode(ctx context.Context, ep model.EmergencyEpisode) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, status, started_at, ended_at, fail_reason, trigger_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at, fail_reason = EXCLUDED.fail_reason`,
		ep.ID,
		string(ep.Status),
		ep.StartedAt.UTC(),
		nullableTime(ep.EndedAt),
		ep.FailReason,
		encodeJSON(ep.Trigger),
	)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
