package signalproc

import "math"

// Biquad is a direct-form-I second-order IIR section. Filter state carries
// across calls so R-peak continuity survives window boundaries.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewBandPass builds a band-pass section between lowHz and highHz at the
// given sample rate (RBJ cookbook, constant skirt gain).
func NewBandPass(sampleRate, lowHz, highHz float64) *Biquad {
	center := math.Sqrt(lowHz * highHz)
	q := center / (highHz - lowHz)
	w := 2 * math.Pi * center / sampleRate
	alpha := math.Sin(w) / (2 * q)
	cosw := math.Cos(w)
	a0 := 1 + alpha
	return &Biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewNotch builds a narrow reject section at the powerline frequency.
func NewNotch(sampleRate, notchHz float64) *Biquad {
	q := 30.0
	w := 2 * math.Pi * notchHz / sampleRate
	alpha := math.Sin(w) / (2 * q)
	cosw := math.Cos(w)
	a0 := 1 + alpha
	return &Biquad{
		b0: 1 / a0,
		b1: -2 * cosw / a0,
		b2: 1 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *Biquad) Next(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Apply filters a window in place order, returning a new slice.
func (f *Biquad) Apply(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = f.Next(s)
	}
	return out
}

func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
