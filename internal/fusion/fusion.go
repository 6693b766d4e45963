// Package fusion merges cloud and edge predictions into the active
// prediction set and maintains the rolling risk assessment. The fuser is
// the single writer of the assessment; readers get point-in-time copies
// via an atomic snapshot swap.
package fusion

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/inference"
	"vitalguard/internal/model"
)

type Fuser struct {
	cfg      config.FusionConfig
	bus      *events.Bus
	logger   *slog.Logger
	snapshot atomic.Value // model.RiskAssessment
}

func NewFuser(cfg config.FusionConfig, bus *events.Bus, logger *slog.Logger) *Fuser {
	f := &Fuser{cfg: cfg, bus: bus, logger: logger}
	f.snapshot.Store(model.RiskAssessment{Trend: model.TrendStable})
	return f
}

// Reconfigure replaces the fusion thresholds. The caller must serialize
// it with Fuse and UpdateRisk; the pipeline applies it between cycles.
func (f *Fuser) Reconfigure(cfg config.FusionConfig) {
	f.cfg = cfg
}

// ValidateCloud gates a remote batch before fusion. Any failed check
// discards the whole remote batch for this cycle; edge predictions still
// proceed on their own.
func (f *Fuser) ValidateCloud(resp model.CloudMLResponse, now time.Time) error {
	if resp.Confidence <= f.cfg.MinCloudConfidence {
		return fmt.Errorf("cloud confidence %.2f at or below %.2f", resp.Confidence, f.cfg.MinCloudConfidence)
	}
	if resp.Timestamp.IsZero() || now.Sub(resp.Timestamp) > f.cfg.MaxCloudAge {
		return fmt.Errorf("cloud response stale (ts=%s)", resp.Timestamp)
	}
	if resp.HealthScore < 0 || resp.HealthScore > 100 {
		return fmt.Errorf("cloud health score %.1f outside [0,100]", resp.HealthScore)
	}
	return nil
}

// Fuse merges the validated cloud batch with the edge predictions. Types
// present in both sources get the fixed weighted confidence (cloud is
// trusted more heavily); singletons pass through unmodified.
func (f *Fuser) Fuse(cloud *model.CloudMLResponse, edge []model.ActivePrediction, now time.Time) []model.ActivePrediction {
	if cloud != nil {
		if err := f.ValidateCloud(*cloud, now); err != nil {
			if f.logger != nil {
				f.logger.Warn("discarding remote predictions", "err", err)
			}
			cloud = nil
		}
	}

	edgeByType := make(map[model.ConditionType]model.ActivePrediction, len(edge))
	for _, p := range edge {
		edgeByType[p.Type] = p
	}

	out := make([]model.ActivePrediction, 0, len(edge))
	merged := make(map[model.ConditionType]bool)
	if cloud != nil {
		for _, cp := range cloud.Predictions {
			if ep, ok := edgeByType[cp.Type]; ok {
				fusedConf := cp.Confidence*f.cfg.CloudWeight + ep.Confidence*f.cfg.EdgeWeight
				out = append(out, model.ActivePrediction{
					Type:              cp.Type,
					Confidence:        fusedConf,
					Summary:           ep.Summary,
					Explanation:       ep.Explanation,
					RecommendedAction: ep.RecommendedAction,
					Source:            model.SourceFused,
					Timestamp:         now,
				})
				merged[cp.Type] = true
				continue
			}
			out = append(out, model.ActivePrediction{
				Type:       cp.Type,
				Confidence: cp.Confidence,
				Summary:    cp.Summary,
				Source:     model.SourceCloud,
				Timestamp:  now,
			})
			merged[cp.Type] = true
		}
	}
	for _, p := range edge {
		if !merged[p.Type] {
			out = append(out, p)
		}
	}
	return out
}

// SafetyNet injects predictions directly from raw vitals when they cross
// hard clinical thresholds, bypassing model confidence scoring entirely.
// A dead model can then never mask a life-threatening reading.
func SafetyNet(v model.VitalsSnapshot, now time.Time) []model.ActivePrediction {
	var out []model.ActivePrediction
	if v.HeartRate > 0 && v.HeartRate < 40 {
		out = append(out, model.ActivePrediction{
			Type:              model.ConditionBradycardia,
			Confidence:        0.95,
			Summary:           fmt.Sprintf("Heart rate critically low at %.0f bpm", v.HeartRate),
			RecommendedAction: "Seek immediate medical attention",
			Source:            model.SourceSafetyNet,
			Timestamp:         now,
		})
	}
	if v.HeartRate > 150 {
		out = append(out, model.ActivePrediction{
			Type:              model.ConditionTachycardia,
			Confidence:        0.95,
			Summary:           fmt.Sprintf("Heart rate critically high at %.0f bpm", v.HeartRate),
			RecommendedAction: "Seek immediate medical attention",
			Source:            model.SourceSafetyNet,
			Timestamp:         now,
		})
	}
	if v.SpO2 > 0 && v.SpO2 < 88 {
		out = append(out, model.ActivePrediction{
			Type:              model.ConditionHypoxemia,
			Confidence:        0.95,
			Summary:           fmt.Sprintf("Blood oxygen critically low at %.0f%%", v.SpO2),
			RecommendedAction: "Seek immediate medical attention",
			Source:            model.SourceSafetyNet,
			Timestamp:         now,
		})
	}
	if v.Systolic > 0 && inference.ClassifyBloodPressure(v.Systolic, v.Diastolic) == inference.BPCrisis {
		out = append(out, model.ActivePrediction{
			Type:              model.ConditionHypertensiveCrisis,
			Confidence:        0.9,
			Summary:           fmt.Sprintf("Hypertensive crisis: %d/%d mmHg", v.Systolic, v.Diastolic),
			RecommendedAction: "Seek immediate medical attention",
			Source:            model.SourceSafetyNet,
			Timestamp:         now,
		})
	}
	if v.FallDetected {
		out = append(out, model.ActivePrediction{
			Type:              model.ConditionFall,
			Confidence:        0.9,
			Summary:           "Possible fall detected",
			RecommendedAction: "Confirm you are okay",
			Source:            model.SourceSafetyNet,
			Timestamp:         now,
		})
	}
	return out
}
