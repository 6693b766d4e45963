package fusion

import (
	"time"

	"vitalguard/internal/model"
)

type domain int

const (
	domainCardiac domain = iota
	domainMetabolic
	domainRespiratory
	domainNeurological
)

var conditionDomain = map[model.ConditionType]domain{
	model.ConditionArrhythmia:         domainCardiac,
	model.ConditionAFib:               domainCardiac,
	model.ConditionVTach:              domainCardiac,
	model.ConditionMIRisk:             domainCardiac,
	model.ConditionHypertension:       domainCardiac,
	model.ConditionHypertensiveCrisis: domainCardiac,
	model.ConditionBradycardia:        domainCardiac,
	model.ConditionTachycardia:        domainCardiac,
	model.ConditionHypoglycemia:       domainMetabolic,
	model.ConditionHyperglycemia:      domainMetabolic,
	model.ConditionHypoxemia:          domainRespiratory,
	model.ConditionStroke:             domainNeurological,
	model.ConditionFall:               domainNeurological,
}

// UpdateRisk recomputes the rolling assessment from the active prediction
// set: each domain takes the highest confidence among its predictions and
// the overall score is the max across domains. The new assessment is
// published atomically, so readers always observe a consistent snapshot.
func (f *Fuser) UpdateRisk(preds []model.ActivePrediction, now time.Time) model.RiskAssessment {
	prev := f.Assessment()

	var scores [4]float64
	for _, p := range preds {
		d, ok := conditionDomain[p.Type]
		if !ok {
			continue // signal quality and other non-clinical types
		}
		if p.Confidence > scores[d] {
			scores[d] = p.Confidence
		}
	}
	overall := scores[0]
	for _, s := range scores[1:] {
		if s > overall {
			overall = s
		}
	}

	next := model.RiskAssessment{
		Overall:      overall,
		Cardiac:      scores[domainCardiac],
		Metabolic:    scores[domainMetabolic],
		Respiratory:  scores[domainRespiratory],
		Neurological: scores[domainNeurological],
		Trend:        f.classifyTrend(prev.Overall, overall),
		LastUpdated:  now,
	}
	f.snapshot.Store(next)
	if f.bus != nil {
		f.bus.Publish(model.RiskUpdated{Assessment: next})
	}
	return next
}

func (f *Fuser) classifyTrend(prevOverall, overall float64) model.Trend {
	delta := overall - prevOverall
	switch {
	case delta > f.cfg.TrendDelta:
		return model.TrendWorsening
	case delta < -f.cfg.TrendDelta:
		return model.TrendImproving
	case overall > f.cfg.CriticalThreshold:
		return model.TrendCritical
	default:
		return model.TrendStable
	}
}

// Assessment returns the latest published snapshot.
func (f *Fuser) Assessment() model.RiskAssessment {
	if v := f.snapshot.Load(); v != nil {
		return v.(model.RiskAssessment)
	}
	return model.RiskAssessment{Trend: model.TrendStable}
}
