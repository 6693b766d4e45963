// Package alerts converts fused predictions into user-facing alerts with
// severity classification, cooldown de-duplication and routing into the
// emergency escalation path.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/model"
	"vitalguard/internal/storage"
)

// Escalator starts the emergency dispatch flow for a crisis-level finding.
type Escalator interface {
	Trigger(ctx context.Context, t model.EmergencyTrigger) error
}

// Notifier forwards an emitted alert to the platform notification and
// contact-notification collaborators.
type Notifier interface {
	Notify(ctx context.Context, alert model.HealthAlert)
}

// emergencyTier lists the condition types that escalate automatically when
// confidence clears the emergency threshold.
var emergencyTier = map[model.ConditionType]bool{
	model.ConditionMIRisk: true,
	model.ConditionStroke: true,
	model.ConditionVTach:  true,
	model.ConditionAFib:   true,
}

type Engine struct {
	cfg       config.AlertsConfig
	cooldown  *Cooldown
	dedupe    *DedupeCache
	store     *Store
	bus       *events.Bus
	db        storage.Store
	notifier  Notifier
	escalator Escalator
	logger    *slog.Logger
}

func NewEngine(cfg config.AlertsConfig, bus *events.Bus, db storage.Store, notifier Notifier, escalator Escalator, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		cooldown:  NewCooldown(),
		dedupe:    NewDedupeCache(),
		store:     NewStore(cfg.StoreLimit),
		bus:       bus,
		db:        db,
		notifier:  notifier,
		escalator: escalator,
		logger:    logger,
	}
}

func (e *Engine) Store() *Store { return e.store }

// Reconfigure replaces the suppression thresholds. The caller must
// serialize it with MaybeAlert; the pipeline applies it between cycles.
// The store keeps its original capacity.
func (e *Engine) Reconfigure(cfg config.AlertsConfig) {
	e.cfg = cfg
}

// MaybeAlert applies the suppression policy to one prediction. A critical
// finding (confidence at or above the critical threshold) always bypasses
// the cooldown; anything else must clear both the minimum confidence and
// the per-type cooldown window.
func (e *Engine) MaybeAlert(ctx context.Context, pred model.ActivePrediction, vitals model.VitalsSnapshot) (model.HealthAlert, bool) {
	if pred.Confidence < e.cfg.MinConfidence {
		return model.HealthAlert{}, false
	}
	now := time.Now().UTC()
	critical := pred.Confidence >= e.cfg.CriticalThreshold
	if critical {
		e.cooldown.Record(pred.Type, now)
	} else {
		if e.dedupe.Seen(string(pred.Type)+"|"+pred.Summary, now, e.cfg.DedupeWindow) {
			return model.HealthAlert{}, false
		}
		if !e.cooldown.Allow(pred.Type, now, e.cfg.Cooldown) {
			return model.HealthAlert{}, false
		}
	}

	severity := e.severityFor(pred)
	alert := model.HealthAlert{
		ID:             uuid.NewString(),
		Title:          title(pred),
		Message:        message(pred),
		Severity:       severity,
		SourceType:     pred.Type,
		ActionRequired: severity == model.SeverityCritical || severity == model.SeverityEmergency,
		CreatedAt:      now,
	}
	e.store.Add(alert)
	if e.logger != nil {
		e.logger.Warn("health alert",
			"type", alert.SourceType,
			"severity", alert.Severity,
			"confidence", pred.Confidence,
			"source", pred.Source,
		)
	}
	if e.db != nil {
		if err := e.db.SaveAlert(ctx, alert); err != nil && e.logger != nil {
			e.logger.Warn("persist alert failed", "err", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(model.AlertRaised{Alert: alert})
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, alert)
	}

	if severity == model.SeverityEmergency && e.escalator != nil {
		trigger := model.EmergencyTrigger{
			RiskScore: pred.Confidence,
			Condition: pred.Type,
			Vitals:    vitals,
		}
		if err := e.escalator.Trigger(ctx, trigger); err != nil && e.logger != nil {
			e.logger.Warn("emergency escalation rejected", "condition", pred.Type, "err", err)
		}
	}
	return alert, true
}

func (e *Engine) severityFor(pred model.ActivePrediction) model.Severity {
	if emergencyTier[pred.Type] && pred.Confidence > e.cfg.EmergencyConfidence {
		return model.SeverityEmergency
	}
	switch {
	case pred.Confidence >= e.cfg.CriticalThreshold:
		return model.SeverityCritical
	case pred.Confidence >= 0.70:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

func title(pred model.ActivePrediction) string {
	if pred.Summary != "" {
		return pred.Summary
	}
	return string(pred.Type)
}

func message(pred model.ActivePrediction) string {
	msg := pred.Explanation
	if msg == "" {
		msg = pred.Summary
	}
	if pred.RecommendedAction != "" {
		if msg != "" {
			msg += ". "
		}
		msg += pred.RecommendedAction
	}
	return msg
}
