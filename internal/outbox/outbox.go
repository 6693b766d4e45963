// Package outbox is the durable store-and-forward queue between the
// device pipeline and the telemetry backend. Records land in a local
// sqlite table first and are drained to Kafka in priority order, so
// connectivity loss never costs an alert.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vitalguard/internal/config"
)

// Priority orders queued records during a drain. Critical records always
// leave the device first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// ConflictPolicy tells the backend how to reconcile an item that was
// modified on both ends while the device was offline.
type ConflictPolicy string

const (
	PolicyClientWins ConflictPolicy = "clientWins"
	PolicyServerWins ConflictPolicy = "serverWins"
	PolicyLatestWins ConflictPolicy = "latestWins"
	PolicyMerge      ConflictPolicy = "merge"
)

// Record is one queued telemetry document.
type Record struct {
	ID        string
	Kind      string
	Priority  Priority
	Policy    ConflictPolicy
	Payload   []byte
	Attempts  int
	EnqueueAt time.Time
}

// publisher abstracts the Kafka writer so drains are testable without a
// broker.
type publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

type Outbox struct {
	cfg    config.OutboxConfig
	db     *sql.DB
	pub    publisher
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	priority        TEXT NOT NULL,
	priority_rank   INTEGER NOT NULL,
	conflict_policy TEXT NOT NULL,
	payload         BLOB NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	enqueued_at     INTEGER NOT NULL,
	next_attempt    INTEGER NOT NULL,
	dead            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_outbox_drain ON outbox(dead, next_attempt, priority_rank, enqueued_at);
`

func New(cfg config.OutboxConfig, logger *slog.Logger) (*Outbox, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", cfg.Path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: init schema: %w", err)
	}
	o := &Outbox{cfg: cfg, db: db, logger: logger}
	if len(cfg.Brokers) > 0 {
		o.pub = newKafkaPublisher(cfg)
	}
	return o, nil
}

func (o *Outbox) Close() error {
	if o.pub != nil {
		if err := o.pub.Close(); err != nil && o.logger != nil {
			o.logger.Warn("outbox publisher close failed", "err", err)
		}
	}
	return o.db.Close()
}

// Enqueue persists a document for delivery with the latest-wins conflict
// policy. v is marshalled to JSON.
func (o *Outbox) Enqueue(ctx context.Context, kind string, priority Priority, v any) error {
	return o.EnqueueWithPolicy(ctx, kind, priority, PolicyLatestWins, v)
}

// EnqueueWithPolicy persists a document with an explicit conflict policy
// for items the backend may also have modified.
func (o *Outbox) EnqueueWithPolicy(ctx context.Context, kind string, priority Priority, policy ConflictPolicy, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("outbox: marshal %s: %w", kind, err)
	}
	now := time.Now().UTC()
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO outbox (id, kind, priority, priority_rank, conflict_policy, payload, attempts, enqueued_at, next_attempt, dead)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, 0)`,
		uuid.NewString(), kind, string(priority), priority.rank(), string(policy), payload, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", kind, err)
	}
	return nil
}

// Pending counts records still awaiting delivery.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE dead = 0`).Scan(&n)
	return n, err
}

// Drain publishes one batch in priority order. Delivered records are
// deleted; failures are rescheduled with exponential backoff until
// MaxAttempts, then parked as dead. Returns the number delivered.
func (o *Outbox) Drain(ctx context.Context) (int, error) {
	if o.pub == nil {
		return 0, nil
	}
	now := time.Now().UTC()
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, kind, priority, conflict_policy, payload, attempts, enqueued_at
		 FROM outbox
		 WHERE dead = 0 AND next_attempt <= ?
		 ORDER BY priority_rank ASC, enqueued_at ASC
		 LIMIT ?`,
		now.UnixMilli(), o.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: select batch: %w", err)
	}
	var batch []Record
	for rows.Next() {
		var (
			rec    Record
			prio   string
			policy string
			enqued int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &prio, &policy, &rec.Payload, &rec.Attempts, &enqued); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		rec.Priority = Priority(prio)
		rec.Policy = ConflictPolicy(policy)
		rec.EnqueueAt = time.UnixMilli(enqued).UTC()
		batch = append(batch, rec)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	delivered := 0
	for _, rec := range batch {
		if err := o.pub.Publish(ctx, rec); err != nil {
			o.reschedule(ctx, rec, err)
			continue
		}
		if _, err := o.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, rec.ID); err != nil {
			return delivered, fmt.Errorf("outbox: delete %s: %w", rec.ID, err)
		}
		delivered++
	}
	return delivered, nil
}

// Run drains on the configured interval until the context is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Drain(ctx)
			if err != nil {
				if o.logger != nil {
					o.logger.Warn("outbox drain failed", "err", err)
				}
				continue
			}
			if n > 0 && o.logger != nil {
				o.logger.Debug("outbox drained", "delivered", n)
			}
		}
	}
}

func (o *Outbox) reschedule(ctx context.Context, rec Record, cause error) {
	attempts := rec.Attempts + 1
	if attempts >= o.cfg.MaxAttempts {
		if _, err := o.db.ExecContext(ctx,
			`UPDATE outbox SET attempts = ?, dead = 1 WHERE id = ?`, attempts, rec.ID); err != nil && o.logger != nil {
			o.logger.Error("outbox dead-letter update failed", "id", rec.ID, "err", err)
		}
		if o.logger != nil {
			o.logger.Error("outbox record dead-lettered", "id", rec.ID, "kind", rec.Kind, "attempts", attempts, "err", cause)
		}
		return
	}
	next := time.Now().UTC().Add(o.backoff(attempts))
	if _, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = ?, next_attempt = ? WHERE id = ?`,
		attempts, next.UnixMilli(), rec.ID); err != nil && o.logger != nil {
		o.logger.Error("outbox reschedule failed", "id", rec.ID, "err", err)
	}
	if o.logger != nil {
		o.logger.Warn("outbox publish failed, rescheduled", "id", rec.ID, "kind", rec.Kind, "attempts", attempts, "err", cause)
	}
}

func (o *Outbox) backoff(attempts int) time.Duration {
	d := o.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.cfg.MaxBackoff {
			return o.cfg.MaxBackoff
		}
	}
	if d > o.cfg.MaxBackoff {
		return o.cfg.MaxBackoff
	}
	return d
}
