package capture

// Decimator downsamples mono float32 audio by block averaging: each output
// sample is the mean of the source samples covering its interval. Averaging
// doubles as a crude low-pass filter, which is sufficient for speech being
// sent to a recognizer. Handles non-integer rate ratios by carrying the
// fractional source position across calls.
//
// Not safe for concurrent use; create one per stream.
type Decimator struct {
	srcRate int
	dstRate int

	// carry holds source samples left over from the previous block that did
	// not complete an output interval.
	carry []float32
}

// NewDecimator creates a Decimator from srcRate to dstRate. If dstRate >=
// srcRate the input passes through unchanged.
func NewDecimator(srcRate, dstRate int) *Decimator {
	return &Decimator{srcRate: srcRate, dstRate: dstRate}
}

// Process decimates one block. The returned slice is freshly allocated and
// owned by the caller.
func (d *Decimator) Process(block []float32) []float32 {
	if d.srcRate <= 0 || d.dstRate <= 0 || d.srcRate <= d.dstRate {
		out := make([]float32, len(block))
		copy(out, block)
		return out
	}

	src := block
	if len(d.carry) > 0 {
		src = append(d.carry, block...)
	}

	ratio := float64(d.srcRate) / float64(d.dstRate)
	n := int(float64(len(src)) / ratio)
	out := make([]float32, 0, n)

	pos := 0.0
	for {
		start := int(pos)
		end := int(pos + ratio)
		if end > len(src) || end == start {
			break
		}
		var sum float32
		for _, v := range src[start:end] {
			sum += v
		}
		out = append(out, sum/float32(end-start))
		pos += ratio
	}

	consumed := int(pos)
	if consumed > len(src) {
		consumed = len(src)
	}
	d.carry = append(d.carry[:0], src[consumed:]...)
	return out
}

// Meter produces a smoothed volume signal: the simple moving average of
// absolute sample values over the most recent window. Used for UI level
// indicators and for gating competing senders while the user is talking.
//
// Not safe for concurrent use; create one per stream.
type Meter struct {
	window int
	ring   []float32
	next   int
	filled int
}

// NewMeter creates a Meter averaging over the given window of samples.
func NewMeter(window int) *Meter {
	if window <= 0 {
		window = defaultVolumeWindow
	}
	return &Meter{window: window, ring: make([]float32, window)}
}

// Add feeds a block of samples and returns the current smoothed volume in
// [0, 1].
func (m *Meter) Add(block []float32) float64 {
	for _, v := range block {
		if v < 0 {
			v = -v
		}
		m.ring[m.next] = v
		m.next = (m.next + 1) % m.window
		if m.filled < m.window {
			m.filled++
		}
	}
	if m.filled == 0 {
		return 0
	}
	var sum float32
	for _, v := range m.ring[:m.filled] {
		sum += v
	}
	return float64(sum) / float64(m.filled)
}
