// Package pipeline connects the stages: decoded sensor frames update the
// vitals snapshot, a fixed-interval analysis cycle runs edge inference,
// fuses in the latest cloud result and drives risk, alerting and the
// telemetry outbox.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vitalguard/internal/alerts"
	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/fusion"
	"vitalguard/internal/inference"
	"vitalguard/internal/model"
	"vitalguard/internal/outbox"
	"vitalguard/internal/signalproc"
	"vitalguard/internal/storage"
)

const lowBatteryPct = 15

type Pipeline struct {
	cfg    *config.Config
	frames <-chan model.SensorFrame
	cloud  <-chan model.CloudMLResponse

	proc   *signalproc.Processor
	infer  *inference.Engine
	fuser  *fusion.Fuser
	alerts *alerts.Engine
	box    *outbox.Outbox
	db     storage.Store
	bus    *events.Bus
	logger *slog.Logger

	mu          sync.Mutex
	vitals      model.VitalsSnapshot
	fallLatched bool
	ecgRing     *signalproc.RingBuffer
	latestCloud *model.CloudMLResponse
	pendingCfg  *config.Config
}

func New(
	cfg *config.Config,
	frames <-chan model.SensorFrame,
	cloud <-chan model.CloudMLResponse,
	infer *inference.Engine,
	fuser *fusion.Fuser,
	alertEngine *alerts.Engine,
	box *outbox.Outbox,
	db storage.Store,
	bus *events.Bus,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		frames:  frames,
		cloud:   cloud,
		proc:    signalproc.NewProcessor(cfg.Signal),
		infer:   infer,
		fuser:   fuser,
		alerts:  alertEngine,
		box:     box,
		db:      db,
		bus:     bus,
		logger:  logger,
		ecgRing: signalproc.NewRingBuffer(cfg.Signal.RingCapacity),
	}
}

// Reconfigure stages a reloaded configuration. The cycle goroutine
// swaps it in at the start of the next cycle so a single cycle never
// mixes settings from two configs.
func (p *Pipeline) Reconfigure(cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.mu.Lock()
	p.pendingCfg = cfg
	p.mu.Unlock()
}

// Vitals returns the current snapshot.
func (p *Pipeline) Vitals() model.VitalsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vitals
}

// RecentECG returns the retained waveform tail, oldest first.
func (p *Pipeline) RecentECG() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ecgRing.Snapshot()
}

// Run consumes frames and cloud responses until the context is
// cancelled or the frame channel closes. The analysis cycle fires on
// cfg.Fusion.CycleInterval regardless of frame arrival.
func (p *Pipeline) Run(ctx context.Context) {
	if p.box != nil {
		go p.forwardAlerts(ctx)
	}
	ticker := time.NewTicker(p.cfg.Fusion.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.frames:
			if !ok {
				return
			}
			p.handleFrame(frame)
		case resp, ok := <-p.cloud:
			if !ok {
				p.cloud = nil
				continue
			}
			p.acceptCloud(resp)
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Pipeline) handleFrame(frame model.SensorFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	p.vitals.Timestamp = now

	switch frame.Kind {
	case model.FrameECG:
		p.ecgRing.Append(frame.Samples...)
		res := p.proc.ProcessECG(frame.Samples)
		if res.Insufficient {
			// The on-device estimate carries the window when peak
			// detection comes up short.
			if frame.HeartRate > 0 {
				p.vitals.HeartRate = float64(frame.HeartRate)
			}
			return
		}
		p.vitals.HeartRate = res.HeartRate
		p.vitals.HRVMs = res.HRVMs
	case model.FramePPG:
		res := signalproc.ProcessPPG(frame.Samples)
		if !res.Insufficient {
			p.vitals.SpO2 = res.SpO2
		}
	case model.FrameIMU:
		res := signalproc.ProcessIMU(frame.Samples, p.cfg.Signal.FallThresholdG)
		if !res.Insufficient && res.FallDetected {
			p.fallLatched = true
		}
	case model.FrameTroponin:
		p.vitals.TroponinI = frame.TroponinI
	case model.FrameBloodPressure:
		p.vitals.Systolic = frame.Systolic
		p.vitals.Diastolic = frame.Diastolic
	case model.FrameGlucose:
		p.vitals.GlucoseMgDl = frame.GlucoseMgDl
	case model.FrameSpO2:
		p.vitals.SpO2 = frame.SpO2Pct
	case model.FrameBattery:
		if frame.BatteryPct < lowBatteryPct && p.logger != nil {
			p.logger.Warn("device battery low", "battery_pct", frame.BatteryPct)
		}
	default:
		if p.logger != nil {
			p.logger.Warn("frame of unknown kind ignored", "kind", frame.Kind)
		}
	}
}

// acceptCloud validates a remote analysis before it can influence the
// next cycle. An invalid response is discarded whole.
func (p *Pipeline) acceptCloud(resp model.CloudMLResponse) {
	if err := p.fuser.ValidateCloud(resp, time.Now().UTC()); err != nil {
		if p.logger != nil {
			p.logger.Warn("cloud analysis rejected", "request_id", resp.RequestID, "err", err)
		}
		return
	}
	p.mu.Lock()
	p.latestCloud = &resp
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Debug("cloud analysis accepted", "request_id", resp.RequestID, "predictions", len(resp.Predictions))
	}
}

func (p *Pipeline) runCycle(ctx context.Context) {
	now := time.Now().UTC()

	p.mu.Lock()
	if p.pendingCfg != nil {
		p.cfg = p.pendingCfg
		p.pendingCfg = nil
		p.fuser.Reconfigure(p.cfg.Fusion)
		p.alerts.Reconfigure(p.cfg.Alerts)
		if p.logger != nil {
			p.logger.Info("cycle configuration applied")
		}
	}
	vitals := p.vitals
	vitals.FallDetected = p.fallLatched
	p.fallLatched = false
	cloud := p.latestCloud
	p.mu.Unlock()

	edge := p.edgePredictions(ctx, vitals, now)
	preds := p.fuser.Fuse(cloud, edge, now)
	preds = append(preds, fusion.SafetyNet(vitals, now)...)

	assessment := p.fuser.UpdateRisk(preds, now)
	if p.db != nil {
		if err := p.db.SaveAssessment(ctx, assessment); err != nil && p.logger != nil {
			p.logger.Warn("persist assessment failed", "err", err)
		}
	}

	for _, pred := range preds {
		p.alerts.MaybeAlert(ctx, pred, vitals)
	}

	if p.box != nil {
		if err := p.box.Enqueue(ctx, "vitals", outbox.PriorityNormal, vitals); err != nil && p.logger != nil {
			p.logger.Warn("enqueue vitals failed", "err", err)
		}
		prio := outbox.PriorityHigh
		if assessment.Overall <= p.cfg.Fusion.CriticalThreshold {
			prio = outbox.PriorityNormal
		}
		if err := p.box.Enqueue(ctx, "assessment", prio, assessment); err != nil && p.logger != nil {
			p.logger.Warn("enqueue assessment failed", "err", err)
		}
	}
}

// edgePredictions derives on-device findings for the cycle from the
// clinical threshold tables and whatever models are loaded. Model
// requests run as a single concurrent batch; missing models degrade to
// the thresholds alone.
func (p *Pipeline) edgePredictions(ctx context.Context, v model.VitalsSnapshot, now time.Time) []model.ActivePrediction {
	var preds []model.ActivePrediction
	add := func(cond model.ConditionType, confidence float64, summary string) {
		preds = append(preds, model.ActivePrediction{
			Type:       cond,
			Confidence: confidence,
			Summary:    summary,
			Source:     model.SourceEdge,
			Timestamp:  now,
		})
	}

	if v.TroponinI > 0 {
		ngL := inference.TroponinNgMLToNgL(v.TroponinI)
		risk := inference.MIRiskFromTroponin(ngL)
		if risk > 0.05 {
			add(model.ConditionMIRisk, risk, "elevated cardiac troponin")
		}
	}

	if v.Systolic > 0 && v.Diastolic > 0 {
		switch stage := inference.ClassifyBloodPressure(v.Systolic, v.Diastolic); stage {
		case inference.BPCrisis:
			add(model.ConditionHypertensiveCrisis, inference.BPStageRisk(stage), "blood pressure at crisis level")
		case inference.BPStage2, inference.BPStage1:
			add(model.ConditionHypertension, inference.BPStageRisk(stage), "blood pressure elevated")
		}
	}

	switch {
	case v.GlucoseMgDl > 0 && v.GlucoseMgDl < 70:
		add(model.ConditionHypoglycemia, glucoseRisk(v.GlucoseMgDl), "glucose below range")
	case v.GlucoseMgDl > 180:
		add(model.ConditionHyperglycemia, glucoseRisk(v.GlucoseMgDl), "glucose above range")
	}

	var reqs []inference.Request
	if p.infer.Has(inference.ModelSignalQuality) {
		if ecg := p.RecentECG(); len(ecg) > 0 {
			reqs = append(reqs, inference.Request{
				Model: inference.ModelSignalQuality,
				Features: map[string]float64{
					"variance": signalproc.Variance(ecg),
					"samples":  float64(len(ecg)),
				},
			})
		}
	}
	if v.HeartRate > 0 && p.infer.Has(inference.ModelArrhythmia) {
		reqs = append(reqs, inference.Request{
			Model: inference.ModelArrhythmia,
			Features: map[string]float64{
				"heart_rate": v.HeartRate,
				"hrv_ms":     v.HRVMs,
			},
		})
	}

	for _, res := range p.infer.InferBatch(ctx, reqs) {
		if !res.Available || res.RiskScore <= 0.5 {
			continue
		}
		switch res.Model {
		case inference.ModelSignalQuality:
			add(model.ConditionSignalQuality, res.Confidence, "degraded electrode contact")
		case inference.ModelArrhythmia:
			add(conditionForClassification(res.Classification), res.Confidence, "irregular rhythm pattern")
		}
	}

	return preds
}

func conditionForClassification(classification string) model.ConditionType {
	switch classification {
	case "afib":
		return model.ConditionAFib
	case "vtach":
		return model.ConditionVTach
	default:
		return model.ConditionArrhythmia
	}
}

// glucoseRisk grows linearly with distance from the 70-180 mg/dL band and
// saturates at severe hypo (40) and severe hyper (400).
func glucoseRisk(mgdl float64) float64 {
	switch {
	case mgdl < 70:
		r := (70 - mgdl) / 30 * 0.9
		return clamp(r, 0.3, 0.9)
	case mgdl > 180:
		r := (mgdl - 180) / 220 * 0.9
		return clamp(r, 0.3, 0.9)
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// forwardAlerts copies raised alerts into the outbox so they survive
// connectivity loss. Severity translates into drain priority.
func (p *Pipeline) forwardAlerts(ctx context.Context) {
	id, ch := p.bus.Subscribe(64)
	defer p.bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			raised, ok := ev.(model.AlertRaised)
			if !ok {
				continue
			}
			if err := p.box.EnqueueWithPolicy(ctx, "alert", priorityFor(raised.Alert.Severity), outbox.PolicyClientWins, raised.Alert); err != nil && p.logger != nil {
				p.logger.Warn("enqueue alert failed", "alert_id", raised.Alert.ID, "err", err)
			}
		}
	}
}

func priorityFor(sev model.Severity) outbox.Priority {
	switch sev {
	case model.SeverityEmergency, model.SeverityCritical:
		return outbox.PriorityCritical
	case model.SeverityWarning:
		return outbox.PriorityHigh
	default:
		return outbox.PriorityNormal
	}
}
