package radio

// Rate identifies an NFC symbol rate.
type Rate int

const (
	Rate106k Rate = iota
	Rate212k
	Rate424k
	Rate848k
)

// BaseFrequency is the NFC carrier frequency (13.56 MHz), from which every
// protocol timing constant (FWT, SFGT, RGT, request guard time) derives.
const BaseFrequency = 13.56e6

// SignalBufferLength is the length of the per-stream circular sample
// window; must be a power of two (spec.md §3 "Decoder status").
const SignalBufferLength = 512

// BitrateParams holds the per-technology, per-rate static timing
// constants derived once at configure() time and held immutable for the
// life of a stream, per spec.md §3.
type BitrateParams struct {
	Rate       Rate
	Tech       TechType
	SymbolsPerSecond uint32

	Period1 int // full symbol, in samples
	Period2 int // half symbol
	Period4 int // quarter symbol
	Period8 int // eighth symbol

	SymbolDelayDetect int

	OffsetSignal int
	OffsetFilter int
	OffsetSymbol int
	OffsetDetect int

	SymbolAverageW0 float32
	SymbolAverageW1 float32
}

// NewNfcABitrates computes BitrateParams for r106k..r424k given a sample
// rate, following NfcA::configure: period durations are
// sampleTimeUnit*(128>>rate) etc, where sampleTimeUnit = sampleRate /
// BaseFrequency (samples per carrier cycle).
func NewNfcABitrates(sampleRate uint32) [3]BitrateParams {
	sampleTimeUnit := float64(sampleRate) / BaseFrequency

	var out [3]BitrateParams
	for rate := Rate106k; rate <= Rate424k; rate++ {
		shift := uint(rate)
		b := BitrateParams{
			Rate:             rate,
			Tech:             TechNfcA,
			SymbolsPerSecond: uint32(BaseFrequency / float64(uint(128)>>shift)),
			Period1:          roundInt(sampleTimeUnit * float64(uint(128)>>shift)),
			Period2:          roundInt(sampleTimeUnit * float64(uint(64)>>shift)),
			Period4:          roundInt(sampleTimeUnit * float64(uint(32)>>shift)),
			Period8:          roundInt(sampleTimeUnit * float64(uint(16)>>shift)),
		}
		if rate > Rate106k {
			prev := out[rate-1]
			b.SymbolDelayDetect = prev.SymbolDelayDetect + prev.Period1
		}
		b.OffsetSignal = SignalBufferLength - b.SymbolDelayDetect
		b.OffsetFilter = SignalBufferLength - b.SymbolDelayDetect - b.Period2
		b.OffsetSymbol = SignalBufferLength - b.SymbolDelayDetect - b.Period1
		b.OffsetDetect = SignalBufferLength - b.SymbolDelayDetect - b.Period4

		b.SymbolAverageW0 = float32(1 - 5.0/float64(b.Period1))
		b.SymbolAverageW1 = 1 - b.SymbolAverageW0

		out[rate] = b
	}
	return out
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
