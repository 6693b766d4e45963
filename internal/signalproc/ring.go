package signalproc

// RingBuffer is a bounded sample buffer that drops the oldest samples on
// overflow. Single writer; Snapshot copies out for readers.
type RingBuffer struct {
	buf  []float64
	head int
	size int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1500
	}
	return &RingBuffer{buf: make([]float64, capacity)}
}

func (r *RingBuffer) Append(samples ...float64) {
	for _, s := range samples {
		idx := (r.head + r.size) % len(r.buf)
		r.buf[idx] = s
		if r.size < len(r.buf) {
			r.size++
		} else {
			r.head = (r.head + 1) % len(r.buf)
		}
	}
}

func (r *RingBuffer) Len() int { return r.size }

func (r *RingBuffer) Cap() int { return len(r.buf) }

func (r *RingBuffer) Snapshot() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *RingBuffer) Clear() {
	r.head, r.size = 0, 0
}
