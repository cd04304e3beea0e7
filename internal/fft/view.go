// Package fft implements the windowed FFT view: decimate an IQ stream,
// apply a raised-sine window, run a forward complex FFT via
// gonum.org/v1/gonum/dsp/fourier, and publish a DC-centred magnitude
// spectrum at up to 100 Hz (spec.md §4.I).
package fft

import (
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/josevcm/nfc-laboratory-go/internal/signal"
)

// MaxPublishRate caps how often View.Feed is allowed to actually publish,
// sleeping (reporting false) otherwise.
const MaxPublishRate = 100 // Hz

// View owns the input array and the precomputed window for one FFT
// length N; the spectrum and magnitude slices are allocated on each
// published Feed.
type View struct {
	n          int
	sampleRate uint32
	bandwidth  float64

	window []float64
	fft    *fourier.CmplxFFT

	input []complex128
	fill  int

	lastPublish time.Time
	minInterval time.Duration
}

// New builds a View of length n for the given input sample rate and
// target display bandwidth; the decimation factor is sampleRate/bandwidth.
func New(n int, sampleRate uint32, bandwidth float64) *View {
	w := make([]float64, n)
	for i := range w {
		s := math.Sin(math.Pi * float64(i) / float64(n))
		w[i] = s * s
	}
	return &View{
		n:           n,
		sampleRate:  sampleRate,
		bandwidth:   bandwidth,
		window:      w,
		fft:         fourier.NewCmplxFFT(n),
		input:       make([]complex128, n),
		minInterval: time.Second / MaxPublishRate,
	}
}

// Decimation reports sampleRate/bandwidth, rounded down to at least 1.
func (v *View) Decimation() int {
	d := int(float64(v.sampleRate) / v.bandwidth)
	if d < 1 {
		return 1
	}
	return d
}

// Feed ingests one IQ buffer (stride 2: I, Q). It decimates by
// Decimation(), windows, FFTs, and returns a DC-centred magnitude
// FftBin signal buffer whenever both the window fills and the publish
// rate allows it; otherwise ok is false.
func (v *View) Feed(iq *signal.Buffer) (out *signal.Buffer, ok bool) {
	if !iq.IsValid() || iq.Stride != 2 {
		return nil, false
	}

	decim := v.Decimation()
	raw := iq.Raw()[:iq.Elements()]
	for i := 0; i+1 < len(raw); i += 2 * decim {
		if v.fill >= v.n {
			break
		}
		v.input[v.fill] = complex(float64(raw[i]), float64(raw[i+1])) * complex(v.window[v.fill], 0)
		v.fill++
	}

	if v.fill < v.n {
		return nil, false
	}
	v.fill = 0

	if !v.lastPublish.IsZero() && time.Since(v.lastPublish) < v.minInterval {
		return nil, false
	}
	v.lastPublish = time.Now()

	spectrum := v.fft.Coefficients(nil, v.input)

	mag := make([]float32, v.n)
	for i, c := range spectrum {
		mag[i] = float32(cmplx.Abs(c))
	}

	shifted := make([]float32, v.n)
	half := v.n / 2
	copy(shifted[:v.n-half], mag[half:])
	copy(shifted[v.n-half:], mag[:half])

	b := signal.New(signal.FftBin, "fft", v.sampleRate/uint32(decim), 1, v.n)
	if err := b.PutSlice(shifted); err != nil {
		return nil, false
	}
	b.Flip()
	return b, true
}
