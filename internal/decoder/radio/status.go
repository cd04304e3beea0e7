package radio

// Pattern identifies a demodulated NFC-A symbol pattern, per spec.md's
// GLOSSARY entry for Pattern-X/Y/Z/... and NfcA.h's PatternType enum.
type Pattern int

const (
	PatternInvalid Pattern = iota
	PatternNone
	PatternX
	PatternY
	PatternZ
	PatternD
	PatternE
	PatternF
	PatternM
	PatternN
	PatternO
)

// signalParams holds the exponential-average weights derived once from
// the stream's sample rate (spec.md §4.D "Sample preparation").
type signalParams struct {
	powerAverageW0, powerAverageW1    float32
	signalAverageW0, signalAverageW1  float32
	signalVarianceW0, signalVarianceW1 float32
}

func newSignalParams(sampleRate uint32) signalParams {
	fs := float64(sampleRate)
	p := signalParams{}
	p.powerAverageW0 = float32(1 - 1e3/fs)
	p.powerAverageW1 = 1 - p.powerAverageW0
	p.signalAverageW0 = float32(1 - 1e5/fs)
	p.signalAverageW1 = 1 - p.signalAverageW0
	p.signalVarianceW0 = float32(1 - 1e5/fs)
	p.signalVarianceW1 = 1 - p.signalVarianceW0
	return p
}

// signalStatus is the running per-stream signal status: master clock,
// exponential power/average/variance, circular sample window, and carrier
// on/off bookkeeping (spec.md §3 "Decoder status").
type signalStatus struct {
	clock uint64

	powerAverage    float32
	signalAverage   float32
	signalVariance  float32
	signalData      [SignalBufferLength]float32

	carrierOn  uint64
	carrierOff uint64
}

// modulationStatus is the per-rate correlator/search state, one instance
// per candidate bitrate while searching, and the single active one once a
// frame has been synchronized (spec.md §3 "per-rate modulation search
// state").
type modulationStatus struct {
	searchStartTime  uint64
	searchEndTime    uint64
	searchPeakTime   uint64
	searchPulseWidth uint64
	searchDeepValue  float32
	searchThreshold  float32

	symbolStartTime uint64
	symbolEndTime   uint64
	symbolCorr0     float32
	symbolCorr1     float32
	symbolPhase     float32
	symbolAverage   float32

	filterIntegrate float32
	phaseIntegrate  float32
	phaseThreshold  float32

	signalIndex uint64
	filterIndex uint64
	detectIndex uint64
	symbolIndex uint64

	filterPoint1, filterPoint2, filterPoint3 int

	correlatedS0, correlatedS1, correlatedSD float32
	correlationPeek                          float32

	correlationData [SignalBufferLength]float32
	integrationData [SignalBufferLength]float32
}

// symbolStatus is the symbol most recently produced by a correlator step:
// its classified pattern, decoded value, and timing window, shared by the
// poll (ASK Modified-Miller) and listen (ASK Manchester / BPSK) decoders
// (spec.md §4.D "symbol status").
type symbolStatus struct {
	pattern Pattern
	value   int
	start   uint64
	end     uint64
	length  uint64
}

// streamStatus is bit/byte assembly state for the frame currently being
// decoded (spec.md §3 "stream-assembly status").
type streamStatus struct {
	previous Pattern
	pattern  Pattern
	bits     int
	data     byte
	parity   int
	flags    Flags
	bytes    int
	buffer   [1024]byte
}

// frameStatus is per-frame timing state (spec.md §3 "frame status").
type frameStatus struct {
	lastCommand byte
	frameType   FrameType
	symbolRate  uint32
	frameStart  uint64
	frameEnd    uint64
	guardEnd    uint64
	waitingEnd  uint64

	frameGuardTime    uint64
	frameWaitingTime  uint64
	startUpGuardTime  uint64
	requestGuardTime  uint64
}

// protocolStatus is the negotiated timing state surviving across frames
// within a stream (spec.md §3 "protocol status").
type protocolStatus struct {
	maxFrameSize     int
	frameGuardTime   uint64
	frameWaitingTime uint64
	startUpGuardTime uint64
	requestGuardTime uint64
}

func newProtocolStatus(sampleTimeUnit float64) protocolStatus {
	return protocolStatus{
		maxFrameSize:     256,
		startUpGuardTime: uint64(sampleTimeUnit * 256 * 16 * 1),
		frameWaitingTime: uint64(sampleTimeUnit * 256 * 16 * 16),
		frameGuardTime:   uint64(sampleTimeUnit * 128 * 7),
		requestGuardTime: uint64(sampleTimeUnit * 7000),
	}
}
