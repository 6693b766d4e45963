package signalproc

import (
	"math"
	"testing"

	"vitalguard/internal/config"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		ECGSampleRate:  250,
		PPGSampleRate:  100,
		BandLowHz:      0.5,
		BandHighHz:     40,
		NotchHz:        50,
		PeakFraction:   0.6,
		FallThresholdG: 2.5,
		RingCapacity:   1500,
	}
}

// syntheticECG places gaussian R-peaks at the given beat interval.
func syntheticECG(seconds float64, bpm float64, fs float64) []float64 {
	n := int(seconds * fs)
	out := make([]float64, n)
	interval := 60.0 / bpm * fs
	sigma := 0.008 * fs
	for i := 0; i < n; i++ {
		for c := interval / 2; c < float64(n); c += interval {
			z := (float64(i) - c) / sigma
			out[i] += math.Exp(-0.5 * z * z)
		}
	}
	return out
}

func TestECGHeartRate(t *testing.T) {
	p := NewProcessor(testSignalConfig())
	res := p.ProcessECG(syntheticECG(4, 75, 250))
	if res.Insufficient {
		t.Fatalf("expected sufficient data, got sentinel (peaks=%d)", res.PeakCount)
	}
	if res.HeartRate <= 0 || res.HeartRate > 300 {
		t.Fatalf("heart rate out of physiological bounds: %f", res.HeartRate)
	}
	if res.HeartRate < 60 || res.HeartRate > 90 {
		t.Fatalf("expected ~75 bpm, got %f", res.HeartRate)
	}
}

func TestECGHeartRateBounds(t *testing.T) {
	for _, bpm := range []float64{40, 75, 120, 180} {
		p := NewProcessor(testSignalConfig())
		res := p.ProcessECG(syntheticECG(6, bpm, 250))
		if res.Insufficient {
			t.Fatalf("bpm=%f: unexpected insufficient result", bpm)
		}
		if res.HeartRate <= 0 || res.HeartRate > 300 {
			t.Fatalf("bpm=%f: heart rate out of bounds: %f", bpm, res.HeartRate)
		}
	}
}

func TestECGInsufficientPeaks(t *testing.T) {
	p := NewProcessor(testSignalConfig())
	if res := p.ProcessECG(make([]float64, 1000)); !res.Insufficient {
		t.Fatalf("flat signal should be insufficient, got hr=%f", res.HeartRate)
	}
	if res := p.ProcessECG(nil); !res.Insufficient {
		t.Fatalf("empty signal should be insufficient")
	}
	// One lone beat gives a single peak and no RR interval.
	one := make([]float64, 500)
	for i := 245; i < 256; i++ {
		z := float64(i-250) / 2.0
		one[i] = math.Exp(-0.5 * z * z)
	}
	if res := p.ProcessECG(one); !res.Insufficient {
		t.Fatalf("single peak should be insufficient, got hr=%f (peaks=%d)", res.HeartRate, res.PeakCount)
	}
}

func TestPPGSpO2(t *testing.T) {
	// Healthy perfusion: small red swing vs IR gives R < 0.5, SpO2 > 97.
	interleaved := make([]float64, 0, 200)
	for i := 0; i < 100; i++ {
		phase := math.Sin(2 * math.Pi * float64(i) / 50)
		red := 30000 + 200*phase
		ir := 32000 + 600*phase
		interleaved = append(interleaved, red, ir)
	}
	res := ProcessPPG(interleaved)
	if res.Insufficient {
		t.Fatalf("unexpected insufficient result")
	}
	if res.SpO2 < 90 || res.SpO2 > 100 {
		t.Fatalf("expected SpO2 in [90,100], got %f (R=%f)", res.SpO2, res.Ratio)
	}
}

func TestPPGInsufficient(t *testing.T) {
	if res := ProcessPPG(nil); !res.Insufficient {
		t.Fatalf("empty input should be insufficient")
	}
	if res := ProcessPPG([]float64{1, 2}); !res.Insufficient {
		t.Fatalf("single pair should be insufficient")
	}
	if res := ProcessPPG(make([]float64, 200)); !res.Insufficient {
		t.Fatalf("zero DC should be insufficient")
	}
}

func TestIMUFallDetection(t *testing.T) {
	quiet := []float64{0, 0, 1.0, 0.1, 0, 0.95, 0, 0.05, 1.02}
	res := ProcessIMU(quiet, 2.5)
	if res.Insufficient || res.FallDetected {
		t.Fatalf("normal movement flagged: %+v", res)
	}
	impact := append(quiet, 2.1, 1.4, 1.2)
	res = ProcessIMU(impact, 2.5)
	if !res.FallDetected {
		t.Fatalf("expected fall at %.2fg magnitude", res.MaxMagnitudeG)
	}
	if res := ProcessIMU([]float64{1, 2}, 2.5); !res.Insufficient {
		t.Fatalf("partial triplet should be insufficient")
	}
}

func TestRingBufferDropsOldest(t *testing.T) {
	r := NewRingBuffer(4)
	r.Append(1, 2, 3, 4)
	r.Append(5, 6)
	got := r.Snapshot()
	want := []float64{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot[%d]: want %f, got %f", i, want[i], got[i])
		}
	}
	if r.Len() != 4 || r.Cap() != 4 {
		t.Fatalf("len/cap wrong: %d/%d", r.Len(), r.Cap())
	}
}
