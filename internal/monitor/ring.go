package monitor

// sampleRing is a fixed-capacity ring buffer of samples. When full, the
// oldest sample is evicted.
type sampleRing struct {
	buf   []ResourceSample
	head  int // index of the oldest element
	count int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &sampleRing{buf: make([]ResourceSample, capacity)}
}

func (r *sampleRing) push(s ResourceSample) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *sampleRing) len() int { return r.count }

// snapshot returns up to max of the most recent samples in chronological
// order. max <= 0 returns everything.
func (r *sampleRing) snapshot(max int) []ResourceSample {
	n := r.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]ResourceSample, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
