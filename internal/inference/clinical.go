package inference

// Deterministic clinical post-processing tables applied to model output
// and raw biomarker readings.

// MIRiskFromTroponin buckets a troponin I level (ng/L) into a myocardial
// infarction risk score.
func MIRiskFromTroponin(ngPerL float64) float64 {
	switch {
	case ngPerL < 14:
		return 0.05
	case ngPerL < 52:
		return 0.25
	case ngPerL < 100:
		return 0.60
	default:
		return 0.95
	}
}

// TroponinNgMLToNgL converts the device's ng/mL reading to the ng/L scale
// the risk buckets are defined on.
func TroponinNgMLToNgL(ngPerML float64) float64 {
	return ngPerML * 1000
}

type BPStage string

const (
	BPNormal   BPStage = "normal"
	BPElevated BPStage = "elevated"
	BPStage1   BPStage = "stage1"
	BPStage2   BPStage = "stage2"
	BPCrisis   BPStage = "crisis"
)

// ClassifyBloodPressure applies the fixed systolic/diastolic cut points.
func ClassifyBloodPressure(systolic, diastolic int) BPStage {
	switch {
	case systolic >= 180 || diastolic >= 120:
		return BPCrisis
	case systolic >= 140 || diastolic >= 90:
		return BPStage2
	case systolic >= 130 || diastolic >= 80:
		return BPStage1
	case systolic >= 120:
		return BPElevated
	default:
		return BPNormal
	}
}

// BPStageRisk maps a hypertension stage onto a normalized risk score.
func BPStageRisk(stage BPStage) float64 {
	switch stage {
	case BPElevated:
		return 0.2
	case BPStage1:
		return 0.4
	case BPStage2:
		return 0.6
	case BPCrisis:
		return 0.9
	default:
		return 0.05
	}
}
