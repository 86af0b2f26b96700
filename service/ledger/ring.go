package ledger

// latencyRing is a fixed-capacity buffer of samples. Once full, each push
// evicts the oldest sample.
type latencyRing struct {
	buf   []LatencySample
	start int
	size  int
}

func newLatencyRing(capacity int) *latencyRing {
	if capacity <= 0 {
		capacity = DefaultLatencyCapacity
	}
	return &latencyRing{buf: make([]LatencySample, capacity)}
}

func (r *latencyRing) push(s LatencySample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the samples oldest first.
func (r *latencyRing) items() []LatencySample {
	out := make([]LatencySample, r.size)
	for i := range r.size {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *latencyRing) len() int {
	return r.size
}
