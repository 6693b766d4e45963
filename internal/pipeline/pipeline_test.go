package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vitalguard/internal/alerts"
	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/fusion"
	"vitalguard/internal/inference"
	"vitalguard/internal/model"
	"vitalguard/internal/outbox"
)

func newTestPipeline(t *testing.T, box *outbox.Outbox) (*Pipeline, *alerts.Engine, *events.Bus) {
	t.Helper()
	cfg := config.DefaultConfig()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	fuser := fusion.NewFuser(cfg.Fusion, bus, nil)
	alertEngine := alerts.NewEngine(cfg.Alerts, bus, nil, nil, nil, nil)
	infer := inference.NewEngine(nil, cfg.Inference.LatencyBudget, nil)
	p := New(cfg, nil, nil, infer, fuser, alertEngine, box, nil, bus, nil)
	return p, alertEngine, bus
}

func TestFrameUpdatesVitals(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	p.handleFrame(model.SensorFrame{Kind: model.FrameBloodPressure, Systolic: 128, Diastolic: 82})
	p.handleFrame(model.SensorFrame{Kind: model.FrameGlucose, GlucoseMgDl: 104})
	p.handleFrame(model.SensorFrame{Kind: model.FrameSpO2, SpO2Pct: 97.5})
	p.handleFrame(model.SensorFrame{Kind: model.FrameTroponin, TroponinI: 0.012})

	v := p.Vitals()
	if v.Systolic != 128 || v.Diastolic != 82 {
		t.Fatalf("bp = %d/%d, want 128/82", v.Systolic, v.Diastolic)
	}
	if v.GlucoseMgDl != 104 {
		t.Fatalf("glucose = %v, want 104", v.GlucoseMgDl)
	}
	if v.SpO2 != 97.5 {
		t.Fatalf("spo2 = %v, want 97.5", v.SpO2)
	}
	if v.TroponinI != 0.012 {
		t.Fatalf("troponin = %v, want 0.012", v.TroponinI)
	}
}

func TestDeviceHeartRateUsedWhenWindowInsufficient(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	p.handleFrame(model.SensorFrame{
		Kind:      model.FrameECG,
		Samples:   make([]float64, 500),
		HeartRate: 68,
	})
	if v := p.Vitals(); v.HeartRate != 68 {
		t.Fatalf("heart rate = %v, want device-reported 68", v.HeartRate)
	}
}

func TestCycleRaisesCrisisAlert(t *testing.T) {
	p, alertEngine, _ := newTestPipeline(t, nil)

	p.handleFrame(model.SensorFrame{Kind: model.FrameBloodPressure, Systolic: 185, Diastolic: 125})
	p.runCycle(context.Background())

	unacked := alertEngine.Store().Unacknowledged()
	if len(unacked) == 0 {
		t.Fatal("no alert raised for hypertensive crisis")
	}
	found := false
	for _, a := range unacked {
		if a.SourceType == model.ConditionHypertensiveCrisis {
			found = true
			if a.Severity != model.SeverityCritical {
				t.Fatalf("severity = %s, want critical", a.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("alerts = %+v, want hypertensive_crisis", unacked)
	}
}

func TestElevatedTroponinRaisesInfoAlert(t *testing.T) {
	p, alertEngine, _ := newTestPipeline(t, nil)

	// 0.05 ng/mL is 50 ng/L, elevated but below the acute cutoff.
	p.handleFrame(model.SensorFrame{Kind: model.FrameTroponin, TroponinI: 0.05})
	p.runCycle(context.Background())

	var alert *model.HealthAlert
	for _, a := range alertEngine.Store().List(0) {
		if a.SourceType == model.ConditionMIRisk {
			alert = &a
			break
		}
	}
	if alert == nil {
		t.Fatal("no MI-risk alert for elevated troponin")
	}
	if alert.Severity == model.SeverityCritical || alert.Severity == model.SeverityEmergency {
		t.Fatalf("severity = %s, want below critical", alert.Severity)
	}
}

func TestNormalTroponinStaysQuiet(t *testing.T) {
	p, alertEngine, _ := newTestPipeline(t, nil)

	p.handleFrame(model.SensorFrame{Kind: model.FrameTroponin, TroponinI: 0.01})
	p.runCycle(context.Background())

	for _, a := range alertEngine.Store().List(0) {
		if a.SourceType == model.ConditionMIRisk {
			t.Fatalf("normal troponin raised an alert: %+v", a)
		}
	}
}

type stubModel struct {
	kind           inference.ModelKind
	classification string
}

func (m stubModel) Kind() inference.ModelKind { return m.kind }

func (m stubModel) Infer(map[string]float64) (string, float64, float64, error) {
	return m.classification, 0.8, 0.8, nil
}

func TestCycleRunsAllLoadedModels(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	models := map[inference.ModelKind]inference.Model{
		inference.ModelSignalQuality: stubModel{inference.ModelSignalQuality, "degraded"},
		inference.ModelArrhythmia:    stubModel{inference.ModelArrhythmia, "afib"},
	}
	infer := inference.NewEngine(models, cfg.Inference.LatencyBudget, nil)
	fuser := fusion.NewFuser(cfg.Fusion, bus, nil)
	alertEngine := alerts.NewEngine(cfg.Alerts, bus, nil, nil, nil, nil)
	p := New(cfg, nil, nil, infer, fuser, alertEngine, nil, nil, bus, nil)

	p.handleFrame(model.SensorFrame{
		Kind:      model.FrameECG,
		Samples:   make([]float64, 500),
		HeartRate: 72,
	})
	p.runCycle(context.Background())

	var sawSignal, sawRhythm bool
	for _, a := range alertEngine.Store().List(0) {
		switch a.SourceType {
		case model.ConditionSignalQuality:
			sawSignal = true
		case model.ConditionAFib:
			sawRhythm = true
		}
	}
	if !sawSignal || !sawRhythm {
		t.Fatalf("signal=%v rhythm=%v, want both model findings in one cycle", sawSignal, sawRhythm)
	}
}

func TestFallLatchConsumedByNextCycle(t *testing.T) {
	p, alertEngine, _ := newTestPipeline(t, nil)

	samples := []float64{0, 0, 1.0, 2.1, 0.3, 2.8, 0.1, 0, 0.98}
	p.handleFrame(model.SensorFrame{Kind: model.FrameIMU, Samples: samples})
	p.runCycle(context.Background())

	found := false
	for _, a := range alertEngine.Store().List(0) {
		if a.SourceType == model.ConditionFall {
			found = true
		}
	}
	if !found {
		t.Fatal("no fall alert after impact frame")
	}

	p.mu.Lock()
	latched := p.fallLatched
	p.mu.Unlock()
	if latched {
		t.Fatal("fall latch not cleared by cycle")
	}
}

func TestReconfigureAppliesAtNextCycle(t *testing.T) {
	p, alertEngine, _ := newTestPipeline(t, nil)

	strict := config.DefaultConfig()
	strict.Alerts.MinConfidence = 0.5
	p.Reconfigure(strict)

	p.handleFrame(model.SensorFrame{Kind: model.FrameTroponin, TroponinI: 0.05})
	p.runCycle(context.Background())

	for _, a := range alertEngine.Store().List(0) {
		if a.SourceType == model.ConditionMIRisk {
			t.Fatalf("alert raised under the reloaded confidence floor: %+v", a)
		}
	}
}

func TestStaleCloudResponseIgnored(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	p.acceptCloud(model.CloudMLResponse{
		RequestID:   "stale",
		Timestamp:   time.Now().UTC().Add(-2 * time.Hour),
		Confidence:  0.9,
		HealthScore: 50,
	})
	p.mu.Lock()
	cloud := p.latestCloud
	p.mu.Unlock()
	if cloud != nil {
		t.Fatal("stale cloud response was accepted")
	}

	p.acceptCloud(model.CloudMLResponse{
		RequestID:   "fresh",
		Timestamp:   time.Now().UTC(),
		Confidence:  0.9,
		HealthScore: 50,
	})
	p.mu.Lock()
	cloud = p.latestCloud
	p.mu.Unlock()
	if cloud == nil || cloud.RequestID != "fresh" {
		t.Fatalf("cloud = %+v, want fresh response accepted", cloud)
	}
}

func TestAlertsForwardedToOutbox(t *testing.T) {
	boxCfg := config.OutboxConfig{
		Enabled:       true,
		Path:          "file:" + filepath.Join(t.TempDir(), "outbox.db") + "?_pragma=busy_timeout(5000)",
		MaxAttempts:   3,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    time.Millisecond,
		DrainInterval: time.Second,
		BatchSize:     16,
	}
	box, err := outbox.New(boxCfg, nil)
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	defer box.Close()

	p, _, bus := newTestPipeline(t, box)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.forwardAlerts(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(model.AlertRaised{Alert: model.HealthAlert{
		ID:         "a1",
		Severity:   model.SeverityCritical,
		SourceType: model.ConditionMIRisk,
	}})

	deadline := time.After(2 * time.Second)
	for {
		n, err := box.Pending(ctx)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("pending = %d, want 1", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGlucoseRiskBounds(t *testing.T) {
	cases := []struct {
		mgdl float64
		min  float64
		max  float64
	}{
		{40, 0.89, 0.9},
		{65, 0.3, 0.31},
		{100, 0, 0},
		{200, 0.3, 0.31},
		{400, 0.89, 0.9},
	}
	for _, tc := range cases {
		got := glucoseRisk(tc.mgdl)
		if got < tc.min || got > tc.max {
			t.Errorf("glucoseRisk(%v) = %v, want in [%v,%v]", tc.mgdl, got, tc.min, tc.max)
		}
	}
}
