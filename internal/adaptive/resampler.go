// Package adaptive implements lossy down-sampling of sample streams for
// display: an edge-triggered policy for logic signals and a
// variance-gated moving-mean policy for radio signals (spec.md §4.F),
// grounded on the teacher's channel-driven sample-rate-reduction style in
// radiod.go (consume one stream, emit a smaller one on a dedicated
// goroutine boundary via internal/worker).
package adaptive

import "gonum.org/v1/gonum/floats"

// MaxLogicGap is the maximum number of untouched logic samples before a
// synthetic emission is forced, so a flat signal still produces periodic
// anchor points.
const MaxLogicGap = 255

// MaxRadioGap is the radio-policy equivalent of MaxLogicGap.
const MaxRadioGap = 255

// Window is the moving-mean window length for the radio policy.
const Window = 51

// Point is one emitted (value, index) sample.
type Point struct {
	Value float32
	Index uint64
}

// LogicResample emits a value whenever it changes from the previous
// sample, or MAX_LOGIC_GAP samples have elapsed since the last emission.
// The first and last samples of input are always emitted.
func LogicResample(input []float32, originIndex uint64) []Point {
	if len(input) == 0 {
		return nil
	}
	out := make([]Point, 0, len(input)/4+2)
	out = append(out, Point{input[0], originIndex})
	lastEmitted := uint64(0)
	lastValue := input[0]
	for i := 1; i < len(input); i++ {
		idx := uint64(i)
		if input[i] != lastValue || idx-lastEmitted >= MaxLogicGap {
			out = append(out, Point{input[i], originIndex + idx})
			lastEmitted = idx
			lastValue = input[i]
		}
	}
	if last := uint64(len(input) - 1); lastEmitted != last {
		out = append(out, Point{input[len(input)-1], originIndex + last})
	}
	return out
}

// RadioResample maintains a moving mean over Window samples and emits
// (x_i, i) when the deviation from that mean exceeds threshold, or when
// MAX_RADIO_GAP samples have elapsed since the last emission. When the
// immediately preceding sample was not itself emitted, a "hold" control
// point at i-1 is emitted first so the subsequent segment renders flat,
// per spec.md §4.F. The first and last samples are always emitted.
func RadioResample(input []float32, originIndex uint64, threshold float32) []Point {
	if len(input) == 0 {
		return nil
	}
	out := make([]Point, 0, len(input)/8+2)
	out = append(out, Point{input[0], originIndex})

	var window [Window]float32
	var sum float32
	count := 0

	lastEmitted := uint64(0)
	prevEmitted := true // index 0 was just emitted

	for i := 1; i < len(input); i++ {
		x := input[i]

		if count < Window {
			window[count] = x
			sum += x
			count++
		} else {
			slot := (i - 1) % Window
			sum += x - window[slot]
			window[slot] = x
			if slot == 0 {
				// resync against the true window sum every Window samples so
				// float32 rounding from the incremental update can't drift.
				sum = float32(floats.Sum(windowToFloat64(window[:])))
			}
		}
		mean := sum / float32(count)
		dev := x - mean
		if dev < 0 {
			dev = -dev
		}

		idx := uint64(i)
		if dev > threshold || idx-lastEmitted >= MaxRadioGap {
			if !prevEmitted {
				out = append(out, Point{input[i-1], originIndex + idx - 1})
			}
			out = append(out, Point{x, originIndex + idx})
			lastEmitted = idx
			prevEmitted = true
		} else {
			prevEmitted = false
		}
	}

	if last := uint64(len(input) - 1); lastEmitted != last {
		out = append(out, Point{input[len(input)-1], originIndex + last})
	}
	return out
}

func windowToFloat64(w []float32) []float64 {
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = float64(v)
	}
	return out
}
