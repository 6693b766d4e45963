package inference

import (
	"context"
	"testing"
	"time"
)

func TestMIRiskBuckets(t *testing.T) {
	cases := []struct {
		ngPerL float64
		want   float64
	}{
		{10, 0.05},  // troponin I 0.01 ng/mL: normal
		{13.9, 0.05},
		{14, 0.25},
		{50, 0.25}, // troponin I 0.05 ng/mL: elevated
		{52, 0.60},
		{99, 0.60},
		{100, 0.95},
		{400, 0.95},
	}
	for _, c := range cases {
		if got := MIRiskFromTroponin(c.ngPerL); got != c.want {
			t.Fatalf("MIRiskFromTroponin(%f): want %f, got %f", c.ngPerL, c.want, got)
		}
	}
	if got := MIRiskFromTroponin(TroponinNgMLToNgL(0.01)); got != 0.05 {
		t.Fatalf("0.01 ng/mL should map to 0.05 risk, got %f", got)
	}
	if got := MIRiskFromTroponin(TroponinNgMLToNgL(0.05)); got < 0.25 {
		t.Fatalf("0.05 ng/mL should map to at least 0.25 risk, got %f", got)
	}
}

func TestBloodPressureStages(t *testing.T) {
	cases := []struct {
		sys, dia int
		want     BPStage
	}{
		{110, 70, BPNormal},
		{122, 78, BPElevated},
		{125, 82, BPStage1},
		{132, 78, BPStage1},
		{142, 85, BPStage2},
		{135, 92, BPStage2},
		{185, 125, BPCrisis},
		{178, 121, BPCrisis},
	}
	for _, c := range cases {
		if got := ClassifyBloodPressure(c.sys, c.dia); got != c.want {
			t.Fatalf("ClassifyBloodPressure(%d,%d): want %s, got %s", c.sys, c.dia, c.want, got)
		}
	}
}

func TestUnavailableModelIsNeutral(t *testing.T) {
	e := NewEngine(nil, 100*time.Millisecond, nil)
	res := e.Infer(context.Background(), Request{Model: ModelArrhythmia})
	if res.Available {
		t.Fatalf("missing model reported available")
	}
	if res.Confidence != 0 || res.RiskScore != 0 {
		t.Fatalf("missing model must be zero-confidence, got %+v", res)
	}
}

func TestBatchReturnsAllResults(t *testing.T) {
	models := map[ModelKind]Model{
		ModelTroponin: &LinearModel{
			ModelKind:     ModelTroponin,
			Coefficients:  map[string]float64{"troponin_ng_l": 0.05},
			Intercept:     -3,
			Threshold:     0.5,
			PositiveLabel: "mi_risk",
			NegativeLabel: "normal",
		},
	}
	e := NewEngine(models, 100*time.Millisecond, nil)
	reqs := []Request{
		{Model: ModelTroponin, Features: map[string]float64{"troponin_ng_l": 200}},
		{Model: ModelGlucose, Features: map[string]float64{"glucose": 90}},
		{Model: ModelTroponin, Features: map[string]float64{"troponin_ng_l": 5}},
	}
	results := e.InferBatch(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Classification != "mi_risk" {
		t.Fatalf("high troponin not classified: %+v", results[0])
	}
	if results[1].Available {
		t.Fatalf("absent glucose model should degrade, got %+v", results[1])
	}
	if !results[2].Available || results[2].Classification != "normal" {
		t.Fatalf("low troponin misclassified: %+v", results[2])
	}
	if results[0].Latency <= 0 {
		t.Fatalf("latency not observed")
	}
}
