package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"vitalguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:vitalguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			source_type TEXT NOT NULL,
			action_required INTEGER NOT NULL,
			acknowledged_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			overall REAL NOT NULL,
			cardiac REAL NOT NULL,
			metabolic REAL NOT NULL,
			respiratory REAL NOT NULL,
			neurological REAL NOT NULL,
			trend TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_ts ON assessments(ts)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			fail_reason TEXT,
			trigger_json TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.HealthAlert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (id, ts, title, message, severity, source_type, action_required, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.CreatedAt.UTC(),
		alert.Title,
		alert.Message,
		string(alert.Severity),
		string(alert.SourceType),
		boolToInt(alert.ActionRequired),
		nullableTime(alert.AcknowledgedAt),
	)
	return err
}

func (s *sqliteStore) SaveAssessment(ctx context.Context, ra model.RiskAssessment) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (ts, overall, cardiac, metabolic, respiratory, neurological, trend)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) SaveEpisode(ctx context.Context, ep model.EmergencyEpisode) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO episodes (id, status, started_at, ended_at, fail_reason, trigger_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID,
		string(ep.Status),
		ep.StartedAt.UTC(),
		nullableTime(ep.EndedAt),
		ep.FailReason,
		encodeJSON(ep.Trigger),
	)
	return err
}
