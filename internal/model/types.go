package model

import "time"

type FrameKind string

const (
	FrameECG           FrameKind = "ecg"
	FramePPG           FrameKind = "ppg"
	FrameIMU           FrameKind = "imu"
	FrameTroponin      FrameKind = "troponin"
	FrameBloodPressure FrameKind = "blood_pressure"
	FrameGlucose       FrameKind = "glucose"
	FrameSpO2          FrameKind = "spo2"
	FrameBattery       FrameKind = "battery"
)

// SensorFrame is one decoded BLE notification. Signal-bearing kinds carry
// Samples; biomarker kinds carry the scalar fields for their kind and leave
// Samples nil.
type SensorFrame struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      FrameKind `json:"kind"`
	Sequence  uint32    `json:"sequence"`
	Samples   []float64 `json:"samples,omitempty"`

	HeartRate      int  `json:"heart_rate,omitempty"`
	ArrhythmiaFlag bool `json:"arrhythmia_flag,omitempty"`

	TroponinI          float64 `json:"troponin_i,omitempty"` // ng/mL
	TroponinT          float64 `json:"troponin_t,omitempty"` // ng/mL
	TroponinConfidence float64 `json:"troponin_confidence,omitempty"`
	TroponinRisk       float64 `json:"troponin_risk,omitempty"`

	Systolic  int `json:"systolic,omitempty"`
	Diastolic int `json:"diastolic,omitempty"`
	Pulse     int `json:"pulse,omitempty"`

	GlucoseMgDl float64 `json:"glucose_mg_dl,omitempty"`
	SpO2Pct     float64 `json:"spo2_pct,omitempty"`
	BatteryPct  int     `json:"battery_pct,omitempty"`
}

// VitalsSnapshot is the rolling view of the most recent physiological
// readings. Zero values mean "no reading yet" for every field.
type VitalsSnapshot struct {
	HeartRate       float64   `json:"heart_rate"`
	HRVMs           float64   `json:"hrv_ms"`
	SpO2            float64   `json:"spo2"`
	Systolic        int       `json:"systolic"`
	Diastolic       int       `json:"diastolic"`
	GlucoseMgDl     float64   `json:"glucose_mg_dl"`
	TroponinI       float64   `json:"troponin_i"`
	RespiratoryRate float64   `json:"respiratory_rate"`
	FallDetected    bool      `json:"fall_detected"`
	Timestamp       time.Time `json:"timestamp"`
}

type ConditionType string

const (
	ConditionArrhythmia         ConditionType = "arrhythmia"
	ConditionAFib               ConditionType = "afib"
	ConditionVTach              ConditionType = "vtach"
	ConditionMIRisk             ConditionType = "mi_risk"
	ConditionStroke             ConditionType = "stroke"
	ConditionHypertension       ConditionType = "hypertension"
	ConditionHypertensiveCrisis ConditionType = "hypertensive_crisis"
	ConditionBradycardia        ConditionType = "bradycardia"
	ConditionTachycardia        ConditionType = "tachycardia"
	ConditionHypoxemia          ConditionType = "hypoxemia"
	ConditionHypoglycemia       ConditionType = "hypoglycemia"
	ConditionHyperglycemia      ConditionType = "hyperglycemia"
	ConditionFall               ConditionType = "fall"
	ConditionSignalQuality      ConditionType = "signal_quality"
)

type PredictionSource string

const (
	SourceEdge      PredictionSource = "edge"
	SourceCloud     PredictionSource = "cloud"
	SourceFused     PredictionSource = "fused"
	SourceSafetyNet PredictionSource = "safety_net"
)

// ActivePrediction is immutable once created; a newer cycle replaces it
// wholesale.
type ActivePrediction struct {
	Type              ConditionType    `json:"type"`
	Confidence        float64          `json:"confidence"`
	Summary           string           `json:"summary"`
	Explanation       string           `json:"explanation,omitempty"`
	RecommendedAction string           `json:"recommended_action,omitempty"`
	Source            PredictionSource `json:"source"`
	Timestamp         time.Time        `json:"timestamp"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
	TrendCritical  Trend = "critical"
)

// RiskAssessment invariant: Overall == max of the four domain scores.
type RiskAssessment struct {
	Overall      float64   `json:"overall"`
	Cardiac      float64   `json:"cardiac"`
	Metabolic    float64   `json:"metabolic"`
	Respiratory  float64   `json:"respiratory"`
	Neurological float64   `json:"neurological"`
	Trend        Trend     `json:"trend"`
	LastUpdated  time.Time `json:"last_updated"`
}

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

type HealthAlert struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Severity       Severity      `json:"severity"`
	SourceType     ConditionType `json:"source_type"`
	ActionRequired bool          `json:"action_required"`
	CreatedAt      time.Time     `json:"created_at"`
	AcknowledgedAt time.Time     `json:"acknowledged_at,omitempty"`
}

type EmergencyStatus string

const (
	EmergencyIdle       EmergencyStatus = "idle"
	EmergencyAnalyzing  EmergencyStatus = "analyzing"
	EmergencyCountdown  EmergencyStatus = "countdown"
	EmergencyContacting EmergencyStatus = "contacting"
	EmergencyConnected  EmergencyStatus = "connected"
	EmergencyFailed     EmergencyStatus = "failed"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Altitude  float64 `json:"altitude,omitempty"`
	Known     bool    `json:"known"`
}

type EmergencyTrigger struct {
	RiskScore float64        `json:"risk_score"`
	Condition ConditionType  `json:"condition"`
	Vitals    VitalsSnapshot `json:"vitals"`
	Location  Location       `json:"location"`
}

type EmergencyEpisode struct {
	ID                 string           `json:"id"`
	Status             EmergencyStatus  `json:"status"`
	Trigger            EmergencyTrigger `json:"trigger"`
	CountdownRemaining int              `json:"countdown_remaining"`
	StartedAt          time.Time        `json:"started_at"`
	EndedAt            time.Time        `json:"ended_at,omitempty"`
	FailReason         string           `json:"fail_reason,omitempty"`
}

type CloudPrediction struct {
	Type       ConditionType `json:"type"`
	Confidence float64       `json:"confidence"`
	Summary    string        `json:"summary,omitempty"`
}

type CloudMLResponse struct {
	RequestID    string            `json:"request_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Predictions  []CloudPrediction `json:"predictions"`
	Confidence   float64           `json:"confidence"`
	HealthScore  float64           `json:"health_score"`
	ModelVersion string            `json:"model_version"`
}
