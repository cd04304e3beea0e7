package signal

// Cursor mapping helpers: the sample<->pixel arithmetic that drove the
// original Qt MarkerCursor is preserved here as pure functions for any
// client of the websocket feed to reuse, without carrying any of the
// plotting-widget machinery itself (out of scope per spec.md §1).

// SampleAt maps a pixel x-coordinate to an absolute sample index, given
// the plot's origin sample and samples-per-pixel scale.
func SampleAt(x float64, originSample uint64, samplesPerPixel float64) uint64 {
	if samplesPerPixel <= 0 {
		return originSample
	}
	delta := x * samplesPerPixel
	if delta < 0 {
		delta = 0
	}
	return originSample + uint64(delta)
}

// NearestTransition scans a flipped LogicSignal/RadioSignal buffer (stride
// 2: value, sample-index) for the sample index nearest to target,
// returning its pair index and whether any sample was found.
func NearestTransition(b *Buffer, target uint64) (index int, found bool) {
	if b.Stride != 2 || b.Elements() == 0 {
		return 0, false
	}
	best := -1
	var bestDist uint64
	pairs := b.Elements() / 2
	for i := 0; i < pairs; i++ {
		idx := uint64(b.data[i*2+1])
		var dist uint64
		if idx > target {
			dist = idx - target
		} else {
			dist = target - idx
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
