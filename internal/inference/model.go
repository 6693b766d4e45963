package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

type ModelKind string

const (
	ModelArrhythmia    ModelKind = "arrhythmia"
	ModelBloodPressure ModelKind = "blood_pressure"
	ModelGlucose       ModelKind = "glucose"
	ModelTroponin      ModelKind = "troponin"
	ModelSignalQuality ModelKind = "signal_quality"
)

// Model scores a feature map into a classification with confidence and a
// normalized risk score.
type Model interface {
	Kind() ModelKind
	Infer(features map[string]float64) (classification string, confidence, risk float64, err error)
}

// LinearModel is a logistic scorer over named features, loaded from a JSON
// weights file. Small enough to run well inside the per-model latency
// budget on watch-class hardware.
type LinearModel struct {
	ModelKind     ModelKind          `json:"kind"`
	Coefficients  map[string]float64 `json:"coefficients"`
	Intercept     float64            `json:"intercept"`
	Threshold     float64            `json:"threshold"`
	PositiveLabel string             `json:"positive_label"`
	NegativeLabel string             `json:"negative_label"`
}

func (m *LinearModel) Kind() ModelKind { return m.ModelKind }

func (m *LinearModel) Infer(features map[string]float64) (string, float64, float64, error) {
	score := m.Intercept
	for name, coef := range m.Coefficients {
		if v, ok := features[name]; ok {
			score += coef * v
		}
	}
	p := 1.0 / (1.0 + math.Exp(-score))
	if p >= m.Threshold {
		return m.PositiveLabel, p, p, nil
	}
	return m.NegativeLabel, 1 - p, p, nil
}

// LoadModels reads every *.json weights file in dir. A missing directory is
// not an error: the engine degrades to neutral results for absent models.
func LoadModels(dir string) (map[ModelKind]Model, error) {
	models := make(map[ModelKind]Model)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return models, nil
		}
		return nil, fmt.Errorf("inference: read model dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("inference: read model %s: %w", entry.Name(), err)
		}
		var m LinearModel
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("inference: parse model %s: %w", entry.Name(), err)
		}
		if m.ModelKind == "" {
			return nil, fmt.Errorf("inference: model %s has no kind", entry.Name())
		}
		models[m.ModelKind] = &m
	}
	return models, nil
}
