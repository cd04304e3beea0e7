package adaptive

import (
	"testing"

	"pgregory.net/rapid"
)

func TestLogicResampleBound(t *testing.T) {
	input := make([]float32, 10_000)
	edges := 0
	v := float32(0)
	for i := range input {
		if i%5 == 0 {
			v = 1 - v
			edges++
		}
		input[i] = v
	}
	out := LogicResample(input, 0)
	bound := edges + (len(input)+MaxLogicGap-1)/MaxLogicGap + 1
	if len(out) > bound {
		t.Fatalf("emitted %d points, exceeds bound %d", len(out), bound)
	}
	if out[0].Index != 0 {
		t.Fatalf("expected first point at index 0, got %d", out[0].Index)
	}
	if out[len(out)-1].Index != uint64(len(input)-1) {
		t.Fatalf("expected last point at index %d, got %d", len(input)-1, out[len(out)-1].Index)
	}
}

func TestRadioResampleAlwaysBrackets(t *testing.T) {
	input := make([]float32, 1000)
	for i := range input {
		input[i] = float32(i%3) * 0.01
	}
	out := RadioResample(input, 100, 0.5)
	if out[0].Index != 100 {
		t.Fatalf("expected first index 100, got %d", out[0].Index)
	}
	if out[len(out)-1].Index != 100+uint64(len(input)-1) {
		t.Fatalf("expected last index bracket, got %d", out[len(out)-1].Index)
	}
}

// TestRadioResamplePropertiesHoldForArbitraryInput checks, over randomly
// generated inputs and thresholds, the two invariants every caller of
// RadioResample depends on: the first and last sample are always present,
// and emitted indices never exceed the input's bounds.
func TestRadioResamplePropertiesHoldForArbitraryInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 500).Draw(t, "n")
		origin := rapid.Uint64Range(0, 1_000_000).Draw(t, "origin")
		threshold := float32(rapid.Float64Range(0, 1).Draw(t, "threshold"))

		input := make([]float32, n)
		for i := range input {
			input[i] = float32(rapid.Float64Range(-1, 1).Draw(t, "sample"))
		}

		out := RadioResample(input, origin, threshold)

		if len(out) == 0 {
			t.Fatalf("RadioResample must never return an empty slice for non-empty input")
		}
		if out[0].Index != origin {
			t.Fatalf("first emitted index must be origin, got %d want %d", out[0].Index, origin)
		}
		if last := out[len(out)-1].Index; last != origin+uint64(n-1) {
			t.Fatalf("last emitted index must bracket the input, got %d want %d", last, origin+uint64(n-1))
		}
		for _, p := range out {
			if p.Index < origin || p.Index > origin+uint64(n-1) {
				t.Fatalf("emitted index %d out of input bounds [%d,%d]", p.Index, origin, origin+uint64(n-1))
			}
		}
	})
}
