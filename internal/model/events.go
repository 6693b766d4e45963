package model

// Event is a typed pipeline notification published on the event bus.
// Subscribers replace the reactive property observation of the mobile UI.
type Event interface {
	EventName() string
}

type RiskUpdated struct {
	Assessment RiskAssessment
}

func (RiskUpdated) EventName() string { return "risk_updated" }

type AlertRaised struct {
	Alert HealthAlert
}

func (AlertRaised) EventName() string { return "alert_raised" }

type EmergencyStateChanged struct {
	EpisodeID string
	Status    EmergencyStatus
	Remaining int
}

func (EmergencyStateChanged) EventName() string { return "emergency_state_changed" }

type FrameDropped struct {
	Kind   FrameKind
	Reason string
}

func (FrameDropped) EventName() string { return "frame_dropped" }
