// Package signalproc reconstructs physiological measurements from decoded
// sensor frames: ECG heart rate and variability, PPG oxygen saturation and
// IMU fall detection. Every function is total over short or empty input
// and reports "insufficient data" instead of fabricating a value.
package signalproc

import (
	"math"

	"vitalguard/internal/config"
)

type ECGResult struct {
	HeartRate    float64 // bpm
	HRVMs        float64 // mean absolute successive RR difference, ms
	PeakCount    int
	Insufficient bool
}

type PPGResult struct {
	SpO2         float64 // percent, clamped to [0,100]
	Ratio        float64
	Insufficient bool
}

type IMUResult struct {
	MaxMagnitudeG float64
	FallDetected  bool
	Insufficient  bool
}

// Processor owns the stateful ECG filters so filter memory spans window
// boundaries. One processor per device stream; not safe for concurrent use.
type Processor struct {
	cfg   config.SignalConfig
	band  *Biquad
	notch *Biquad
}

func NewProcessor(cfg config.SignalConfig) *Processor {
	return &Processor{
		cfg:   cfg,
		band:  NewBandPass(cfg.ECGSampleRate, cfg.BandLowHz, cfg.BandHighHz),
		notch: NewNotch(cfg.ECGSampleRate, cfg.NotchHz),
	}
}

// ProcessECG band-pass and notch filters the window, detects R-peaks by
// adaptive amplitude threshold and derives heart rate and HRV. Fewer than
// two peaks yields the insufficient sentinel, never a fabricated rate.
func (p *Processor) ProcessECG(samples []float64) ECGResult {
	if len(samples) < 2 {
		return ECGResult{Insufficient: true}
	}
	filtered := p.notch.Apply(p.band.Apply(samples))
	peaks := detectRPeaks(filtered, p.cfg.PeakFraction, p.cfg.ECGSampleRate)
	if len(peaks) < 2 {
		return ECGResult{PeakCount: len(peaks), Insufficient: true}
	}
	rr := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		rr[i-1] = float64(peaks[i]-peaks[i-1]) / p.cfg.ECGSampleRate
	}
	meanRR := mean(rr)
	if meanRR <= 0 {
		return ECGResult{PeakCount: len(peaks), Insufficient: true}
	}
	res := ECGResult{
		HeartRate: 60.0 / meanRR,
		PeakCount: len(peaks),
	}
	if len(rr) >= 2 {
		var sum float64
		for i := 1; i < len(rr); i++ {
			sum += math.Abs(rr[i] - rr[i-1])
		}
		res.HRVMs = sum / float64(len(rr)-1) * 1000
	}
	return res
}

// detectRPeaks flags samples above peakFraction of the windowed maximum
// that are also local maxima. A 200 ms refractory gap rejects double
// counting within one beat, which also bounds computable rates at 300 bpm.
func detectRPeaks(samples []float64, peakFraction, sampleRate float64) []int {
	if len(samples) < 3 {
		return nil
	}
	var windowMax float64
	for _, s := range samples {
		if s > windowMax {
			windowMax = s
		}
	}
	if windowMax <= 0 {
		return nil
	}
	threshold := peakFraction * windowMax
	refractory := int(0.2 * sampleRate)
	var peaks []int
	last := -refractory
	for i := 1; i < len(samples)-1; i++ {
		if samples[i] <= threshold {
			continue
		}
		if samples[i] > samples[i-1] && samples[i] >= samples[i+1] {
			if i-last < refractory {
				if len(peaks) > 0 && samples[i] > samples[last] {
					peaks[len(peaks)-1] = i
					last = i
				}
				continue
			}
			peaks = append(peaks, i)
			last = i
		}
	}
	return peaks
}

// ProcessPPG splits the interleaved red/IR window, extracts AC/DC
// components and estimates SpO2 from the ratio of ratios (110 - 25R).
func ProcessPPG(interleaved []float64) PPGResult {
	if len(interleaved) < 4 || len(interleaved)%2 != 0 {
		return PPGResult{Insufficient: true}
	}
	n := len(interleaved) / 2
	red := make([]float64, n)
	ir := make([]float64, n)
	for i := 0; i < n; i++ {
		red[i] = interleaved[i*2]
		ir[i] = interleaved[i*2+1]
	}
	redAC, redDC := acdc(red)
	irAC, irDC := acdc(ir)
	if redDC <= 0 || irDC <= 0 || irAC <= 0 {
		return PPGResult{Insufficient: true}
	}
	ratio := (redAC / redDC) / (irAC / irDC)
	spo2 := 110 - 25*ratio
	if spo2 < 0 {
		spo2 = 0
	}
	if spo2 > 100 {
		spo2 = 100
	}
	return PPGResult{SpO2: spo2, Ratio: ratio}
}

func acdc(channel []float64) (ac, dc float64) {
	min, max := channel[0], channel[0]
	for _, v := range channel {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min, mean(channel)
}

// ProcessIMU computes per-sample 3-axis magnitude in g and flags a fall
// when any single sample exceeds the threshold. The single-sample trigger
// has no debounce window and is known to fire on abrupt normal movement;
// the threshold is configurable but the behavior is kept as shipped.
func ProcessIMU(triplets []float64, fallThresholdG float64) IMUResult {
	if len(triplets) < 3 || len(triplets)%3 != 0 {
		return IMUResult{Insufficient: true}
	}
	var maxMag float64
	for i := 0; i+2 < len(triplets); i += 3 {
		mag := math.Sqrt(triplets[i]*triplets[i] + triplets[i+1]*triplets[i+1] + triplets[i+2]*triplets[i+2])
		if mag > maxMag {
			maxMag = mag
		}
	}
	return IMUResult{
		MaxMagnitudeG: maxMag,
		FallDetected:  maxMag > fallThresholdG,
	}
}

// Variance over the window, used as a crude signal-quality feature.
func Variance(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	m := mean(samples)
	var sum float64
	for _, s := range samples {
		d := s - m
		sum += d * d
	}
	return sum / float64(len(samples))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
