package fusion

import (
	"math"
	"testing"
	"time"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

func testFusionConfig() config.FusionConfig {
	return config.FusionConfig{
		CloudWeight:        0.7,
		EdgeWeight:         0.3,
		MinCloudConfidence: 0.3,
		MaxCloudAge:        time.Hour,
		CriticalThreshold:  0.85,
		TrendDelta:         0.1,
	}
}

func TestWeightedMerge(t *testing.T) {
	f := NewFuser(testFusionConfig(), nil, nil)
	now := time.Now()
	cloud := &model.CloudMLResponse{
		Confidence:  0.8,
		Timestamp:   now,
		HealthScore: 70,
		Predictions: []model.CloudPrediction{{Type: model.ConditionAFib, Confidence: 0.8}},
	}
	edge := []model.ActivePrediction{
		{Type: model.ConditionAFib, Confidence: 0.4, Source: model.SourceEdge, Timestamp: now},
		{Type: model.ConditionMIRisk, Confidence: 0.6, Source: model.SourceEdge, Timestamp: now},
	}
	out := f.Fuse(cloud, edge, now)
	if len(out) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(out))
	}
	var fused, passthrough *model.ActivePrediction
	for i := range out {
		switch out[i].Type {
		case model.ConditionAFib:
			fused = &out[i]
		case model.ConditionMIRisk:
			passthrough = &out[i]
		}
	}
	if fused == nil || fused.Source != model.SourceFused {
		t.Fatalf("afib not fused: %+v", out)
	}
	want := 0.8*0.7 + 0.4*0.3
	if math.Abs(fused.Confidence-want) > 1e-9 {
		t.Fatalf("fused confidence: want %f, got %f", want, fused.Confidence)
	}
	if passthrough == nil || passthrough.Confidence != 0.6 || passthrough.Source != model.SourceEdge {
		t.Fatalf("edge-only prediction modified: %+v", passthrough)
	}
}

func TestCloudValidationGate(t *testing.T) {
	f := NewFuser(testFusionConfig(), nil, nil)
	now := time.Now()
	edge := []model.ActivePrediction{{Type: model.ConditionAFib, Confidence: 0.4, Source: model.SourceEdge}}
	bad := []model.CloudMLResponse{
		{Confidence: 0.2, Timestamp: now, HealthScore: 70},                      // low confidence
		{Confidence: 0.8, Timestamp: now.Add(-2 * time.Hour), HealthScore: 70},  // stale
		{Confidence: 0.8, Timestamp: now, HealthScore: 140},                     // score out of range
		{Confidence: 0.8, HealthScore: 70},                                      // zero timestamp
	}
	for i, resp := range bad {
		resp.Predictions = []model.CloudPrediction{{Type: model.ConditionAFib, Confidence: 0.9}}
		out := f.Fuse(&resp, edge, now)
		if len(out) != 1 || out[0].Source != model.SourceEdge || out[0].Confidence != 0.4 {
			t.Fatalf("case %d: invalid cloud batch leaked into fusion: %+v", i, out)
		}
	}
}

func TestSafetyNetBradycardia(t *testing.T) {
	now := time.Now()
	preds := SafetyNet(model.VitalsSnapshot{HeartRate: 35}, now)
	if len(preds) != 1 {
		t.Fatalf("expected 1 safety-net prediction, got %d", len(preds))
	}
	p := preds[0]
	if p.Type != model.ConditionBradycardia || p.Confidence != 0.95 || p.Source != model.SourceSafetyNet {
		t.Fatalf("unexpected safety-net prediction: %+v", p)
	}
}

func TestSafetyNetThresholds(t *testing.T) {
	now := time.Now()
	if preds := SafetyNet(model.VitalsSnapshot{HeartRate: 72, SpO2: 97, Systolic: 118, Diastolic: 76}, now); len(preds) != 0 {
		t.Fatalf("normal vitals produced safety-net predictions: %+v", preds)
	}
	if preds := SafetyNet(model.VitalsSnapshot{HeartRate: 160}, now); len(preds) != 1 || preds[0].Type != model.ConditionTachycardia {
		t.Fatalf("tachycardia not injected: %+v", preds)
	}
	if preds := SafetyNet(model.VitalsSnapshot{SpO2: 85}, now); len(preds) != 1 || preds[0].Type != model.ConditionHypoxemia {
		t.Fatalf("hypoxemia not injected: %+v", preds)
	}
	if preds := SafetyNet(model.VitalsSnapshot{Systolic: 185, Diastolic: 125}, now); len(preds) != 1 || preds[0].Type != model.ConditionHypertensiveCrisis {
		t.Fatalf("hypertensive crisis not injected: %+v", preds)
	}
}

func TestRiskOverallIsDomainMax(t *testing.T) {
	cases := [][4]float64{
		{0.2, 0.5, 0.1, 0.0},
		{0.9, 0.1, 0.2, 0.3},
		{0.0, 0.0, 0.0, 0.0},
		{0.33, 0.33, 0.34, 0.33},
	}
	for _, scores := range cases {
		f := NewFuser(testFusionConfig(), nil, nil)
		preds := []model.ActivePrediction{
			{Type: model.ConditionMIRisk, Confidence: scores[0]},
			{Type: model.ConditionHyperglycemia, Confidence: scores[1]},
			{Type: model.ConditionHypoxemia, Confidence: scores[2]},
			{Type: model.ConditionStroke, Confidence: scores[3]},
		}
		ra := f.UpdateRisk(preds, time.Now())
		max := scores[0]
		for _, s := range scores[1:] {
			if s > max {
				max = s
			}
		}
		if ra.Overall != max {
			t.Fatalf("scores %v: overall %f != max %f", scores, ra.Overall, max)
		}
		for _, d := range []float64{ra.Cardiac, ra.Metabolic, ra.Respiratory, ra.Neurological} {
			if ra.Overall < d {
				t.Fatalf("overall %f below domain score %f", ra.Overall, d)
			}
		}
	}
}

func TestTrendClassification(t *testing.T) {
	f := NewFuser(testFusionConfig(), nil, nil)
	now := time.Now()

	ra := f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionMIRisk, Confidence: 0.3}}, now)
	if ra.Trend != model.TrendWorsening {
		t.Fatalf("0 -> 0.3 should be worsening, got %s", ra.Trend)
	}
	ra = f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionMIRisk, Confidence: 0.35}}, now)
	if ra.Trend != model.TrendStable {
		t.Fatalf("0.3 -> 0.35 should be stable, got %s", ra.Trend)
	}
	ra = f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionMIRisk, Confidence: 0.1}}, now)
	if ra.Trend != model.TrendImproving {
		t.Fatalf("0.35 -> 0.1 should be improving, got %s", ra.Trend)
	}
	f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionMIRisk, Confidence: 0.88}}, now)
	ra = f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionMIRisk, Confidence: 0.9}}, now)
	if ra.Trend != model.TrendCritical {
		t.Fatalf("high overall with small delta should be critical, got %s", ra.Trend)
	}
}

func TestAssessmentSnapshotIsConsistent(t *testing.T) {
	f := NewFuser(testFusionConfig(), nil, nil)
	ra := f.Assessment()
	if ra.Trend != model.TrendStable || ra.Overall != 0 {
		t.Fatalf("unexpected initial assessment: %+v", ra)
	}
	f.UpdateRisk([]model.ActivePrediction{{Type: model.ConditionAFib, Confidence: 0.7}}, time.Now())
	got := f.Assessment()
	if got.Overall != 0.7 || got.Cardiac != 0.7 {
		t.Fatalf("snapshot not updated: %+v", got)
	}
}
