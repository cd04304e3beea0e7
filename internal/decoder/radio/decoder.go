package radio

import "math"

// carrierOnRatio, modulationThreshold and powerLevelThreshold mirror
// NfcA::detectModulation's comparisons against signalStatus.powerAverage:
// carrierOnRatio and modulationThreshold are ratios of the running
// power/variance estimate, while powerLevelThreshold is an absolute floor
// on powerAverage below which no modulation search runs.
const (
	carrierOnRatio      = 0.10
	modulationThreshold = 0.30
	powerLevelThreshold = 0.01
)

// Decoder is a streaming NFC-A physical-layer demodulator: feed it
// magnitude samples one at a time and it returns zero or more completed
// RawFrames (carrier edges, poll frames, listen frames), fully classified
// via the command dispatch chain in command.go. Grounded on
// original_source/.../type/NfcA.cpp's Impl: sample preparation in
// nextSample, modulation search in detectModulation, frame assembly in
// decodePollFrame/decodeListenFrame and their per-symbol correlators.
type Decoder struct {
	sampleRate     uint32
	sampleTimeUnit float64

	params signalParams
	rates  [3]BitrateParams

	signal     signalStatus
	modulation [3]modulationStatus
	stream     streamStatus
	frame      frameStatus
	protocol   protocolStatus
	symbol     symbolStatus

	// bitrate/activeMod are nil while searching for a Start-Of-Frame
	// across all three candidate rates, and point into modulation[rate]
	// for the life of one locked poll+listen exchange once found.
	bitrate   *BitrateParams
	activeMod *modulationStatus

	chainedFlags Flags

	carrierPresent bool
	started        bool
	peakPower      float32

	dateTime float64 // seconds, advanced by 1/sampleRate per sample; caller may offset via SetDateTimeOrigin
}

// NewDecoder builds an NfcA Decoder for the given sample rate (Hz).
func NewDecoder(sampleRate uint32) *Decoder {
	d := &Decoder{
		sampleRate:     sampleRate,
		sampleTimeUnit: float64(sampleRate) / BaseFrequency,
		params:         newSignalParams(sampleRate),
		rates:          NewNfcABitrates(sampleRate),
	}
	d.protocol = newProtocolStatus(d.sampleTimeUnit)
	return d
}

// SetDateTimeOrigin offsets the decoder's emitted DateTime fields; callers
// streaming from a capture file pass the recording's start-of-day offset.
func (d *Decoder) SetDateTimeOrigin(seconds float64) { d.dateTime = seconds }

// Feed advances the decoder by one magnitude sample and returns any
// RawFrames completed as a result: an initial CarrierOff emitted once at
// stream start, carrier transitions, and/or a finished poll or listen
// frame.
func (d *Decoder) Feed(sample float32) []RawFrame {
	var out []RawFrame

	if !d.started {
		d.started = true
		out = append(out, d.carrierFrame(CarrierOff))
	}

	d.signal.clock++
	d.dateTime += 1.0 / float64(d.sampleRate)
	d.signal.signalData[d.signal.clock&(SignalBufferLength-1)] = sample

	// powerAverage/signalVariance track raw signal amplitude, not squared
	// power: detectModulation's modulation-deep ratio compares powerAverage
	// directly against a single sample's value (NfcA::nextSample).
	d.signal.powerAverage = d.signal.powerAverage*d.params.powerAverageW0 + sample*d.params.powerAverageW1
	d.signal.signalAverage = d.signal.signalAverage*d.params.signalAverageW0 + sample*d.params.signalAverageW1
	deviation := float32(math.Abs(float64(sample - d.signal.signalAverage)))
	d.signal.signalVariance = d.signal.signalVariance*d.params.signalVarianceW0 + deviation*d.params.signalVarianceW1

	if d.signal.powerAverage > d.peakPower {
		d.peakPower = d.signal.powerAverage
	}

	present := d.peakPower > 0 && d.signal.powerAverage > carrierOnRatio*d.peakPower
	if present != d.carrierPresent {
		d.carrierPresent = present
		if present {
			d.signal.carrierOn = d.signal.clock
			out = append(out, d.carrierFrame(CarrierOn))
		} else {
			d.signal.carrierOff = d.signal.clock
			out = append(out, d.carrierFrame(CarrierOff))
			d.resetModulation()
		}
	}

	if !present {
		return out
	}

	if frame, ok := d.processSample(); ok {
		out = append(out, frame)
	}
	return out
}

func (d *Decoder) carrierFrame(t FrameType) RawFrame {
	return RawFrame{
		TechType:    TechNfcA,
		FrameType:   t,
		SampleStart: d.signal.clock,
		SampleEnd:   d.signal.clock,
		SampleRate:  d.sampleRate,
		DateTime:    d.dateTime,
	}
}

// processSample dispatches the sample just pushed into signal.signalData
// by Feed: while unlocked it searches every candidate rate for a
// Start-Of-Frame; once locked it advances the poll or listen symbol state
// machine for the active rate.
func (d *Decoder) processSample() (RawFrame, bool) {
	if d.bitrate == nil {
		d.detectModulation()
		return RawFrame{}, false
	}

	switch d.frame.frameType {
	case PollFrame:
		return d.decodePollFrame()
	case ListenFrame:
		return d.decodeListenFrame()
	}
	return RawFrame{}, false
}

// detectModulation runs the matched-filter correlator bank for
// 106k/212k/424k in parallel: a half-symbol boxcar integrator
// (filterIntegrate) sampled at three correlation points per symbol
// (filterPoint1/2/3) produces correlatedS0/S1/SD, whose peak across a
// modulation-deep search window locks onto the winning rate and starts
// the poll frame (NfcA::detectModulation).
func (d *Decoder) detectModulation() {
	if d.signal.powerAverage <= powerLevelThreshold {
		return
	}

	for rate := Rate106k; rate <= Rate424k; rate++ {
		bitrate := &d.rates[rate]
		mod := &d.modulation[rate]

		mod.signalIndex = uint64(bitrate.OffsetSignal) + d.signal.clock
		mod.filterIndex = uint64(bitrate.OffsetFilter) + d.signal.clock

		currentData := d.signal.signalData[mod.signalIndex&(SignalBufferLength-1)]
		delayedData := d.signal.signalData[mod.filterIndex&(SignalBufferLength-1)]

		mod.filterIntegrate += currentData
		mod.filterIntegrate -= delayedData

		mod.filterPoint1 = int(mod.signalIndex % uint64(bitrate.Period1))
		mod.filterPoint2 = int((mod.signalIndex + uint64(bitrate.Period2)) % uint64(bitrate.Period1))
		mod.filterPoint3 = int((mod.signalIndex + uint64(bitrate.Period1) - 1) % uint64(bitrate.Period1))

		mod.correlationData[mod.filterPoint1] = mod.filterIntegrate

		mod.correlatedS0 = mod.correlationData[mod.filterPoint1] - mod.correlationData[mod.filterPoint2]
		mod.correlatedS1 = mod.correlationData[mod.filterPoint2] - mod.correlationData[mod.filterPoint3]
		mod.correlatedSD = float32(math.Abs(float64(mod.correlatedS0-mod.correlatedS1))) / float32(bitrate.Period2)

		mod.symbolAverage = mod.symbolAverage*bitrate.SymbolAverageW0 + currentData*bitrate.SymbolAverageW1

		if mod.correlatedSD > d.signal.powerAverage*modulationThreshold {
			modulationDeep := (d.signal.powerAverage - currentData) / d.signal.powerAverage
			if mod.searchDeepValue < modulationDeep {
				mod.searchDeepValue = modulationDeep
			}

			if mod.correlatedSD > mod.correlationPeek {
				mod.searchPulseWidth++
				mod.searchPeakTime = d.signal.clock
				mod.searchEndTime = d.signal.clock + uint64(bitrate.Period4)
				mod.correlationPeek = mod.correlatedSD
			}
		}

		if d.signal.clock == mod.searchEndTime {
			if mod.searchDeepValue > modulationThreshold {
				mod.searchThreshold = d.signal.powerAverage * modulationThreshold
				mod.symbolStartTime = mod.searchPeakTime - uint64(bitrate.Period2)
				mod.symbolEndTime = mod.searchPeakTime + uint64(bitrate.Period2)

				d.frame.frameType = PollFrame
				d.frame.symbolRate = bitrate.SymbolsPerSecond
				d.frame.frameStart = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
				d.frame.frameEnd = 0

				d.symbol = symbolStatus{
					pattern: PatternZ,
					start:   mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect),
					end:     mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect),
					length:  mod.symbolEndTime - mod.symbolStartTime,
				}

				mod.searchStartTime = 0
				mod.searchEndTime = 0
				mod.searchDeepValue = 0
				mod.correlationPeek = 0

				d.bitrate = bitrate
				d.activeMod = mod
				d.stream = streamStatus{}
				return
			}

			mod.searchStartTime = 0
			mod.searchEndTime = 0
			mod.searchDeepValue = 0
			mod.correlationPeek = 0
		}
	}
}

// pollSymbolStep advances one step of the ASK Modified-Miller poll-symbol
// correlator: a chained search window around the estimated next symbol
// boundary tracks the correlation peak, then classifies Pattern-Y (no
// modulation), Pattern-Z, or Pattern-X once the window closes
// (NfcA::decodePollFrameSymbolAsk).
func (d *Decoder) pollSymbolStep() (Pattern, bool) {
	mod := d.activeMod
	bitrate := d.bitrate

	mod.signalIndex = uint64(bitrate.OffsetSignal) + d.signal.clock
	mod.filterIndex = uint64(bitrate.OffsetFilter) + d.signal.clock

	currentData := d.signal.signalData[mod.signalIndex&(SignalBufferLength-1)]
	delayedData := d.signal.signalData[mod.filterIndex&(SignalBufferLength-1)]

	mod.filterIntegrate += currentData
	mod.filterIntegrate -= delayedData

	mod.filterPoint1 = int(mod.signalIndex % uint64(bitrate.Period1))
	mod.filterPoint2 = int((mod.signalIndex + uint64(bitrate.Period2)) % uint64(bitrate.Period1))
	mod.filterPoint3 = int((mod.signalIndex + uint64(bitrate.Period1) - 1) % uint64(bitrate.Period1))

	mod.correlationData[mod.filterPoint1] = mod.filterIntegrate

	mod.correlatedS0 = mod.correlationData[mod.filterPoint1] - mod.correlationData[mod.filterPoint2]
	mod.correlatedS1 = mod.correlationData[mod.filterPoint2] - mod.correlationData[mod.filterPoint3]
	mod.correlatedSD = float32(math.Abs(float64(mod.correlatedS0-mod.correlatedS1))) / float32(bitrate.Period2)

	mod.symbolAverage = mod.symbolAverage*bitrate.SymbolAverageW0 + currentData*bitrate.SymbolAverageW1

	if mod.searchStartTime == 0 {
		mod.symbolStartTime = mod.symbolEndTime
		mod.symbolEndTime = mod.symbolStartTime + uint64(bitrate.Period1)

		mod.searchStartTime = mod.symbolEndTime - uint64(bitrate.Period8)
		mod.searchEndTime = mod.symbolEndTime + uint64(bitrate.Period8)

		mod.symbolCorr0 = 0
		mod.symbolCorr1 = 0
	}

	if d.signal.clock >= mod.searchStartTime && d.signal.clock <= mod.searchEndTime {
		if mod.correlatedSD > mod.correlationPeek {
			mod.correlationPeek = mod.correlatedSD
			mod.symbolCorr0 = mod.correlatedS0
			mod.symbolCorr1 = mod.correlatedS1
			mod.symbolEndTime = d.signal.clock
		}
	}

	pattern := PatternInvalid

	if d.signal.clock == mod.searchEndTime {
		switch {
		case mod.correlationPeek < mod.searchThreshold:
			mod.symbolEndTime = mod.symbolStartTime + uint64(bitrate.Period1)
			d.symbol.value = 1
			pattern = PatternY
		case mod.symbolCorr0 > mod.symbolCorr1:
			d.symbol.value = 0
			pattern = PatternZ
		default:
			d.symbol.value = 1
			pattern = PatternX
		}

		d.symbol.start = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
		d.symbol.end = mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect)
		d.symbol.length = d.symbol.end - d.symbol.start
		d.symbol.pattern = pattern
	}

	if pattern != PatternInvalid {
		mod.searchStartTime = 0
		mod.searchEndTime = 0
		mod.searchPulseWidth = 0
		mod.correlationPeek = 0
		mod.correlatedSD = 0
	}

	return pattern, pattern != PatternInvalid
}

// decodePollFrame assembles one poll-frame bit per symbol boundary: the
// data bit comes from the previous symbol's pattern (Pattern-X=1,
// Pattern-Z=0), end-of-frame is Pattern-Y immediately following
// Pattern-Y or Pattern-Z (or maxFrameSize reached), and a valid frame
// needs at least one full byte or a 7-bit short frame
// (NfcA::decodePollFrame).
func (d *Decoder) decodePollFrame() (RawFrame, bool) {
	pattern, ok := d.pollSymbolStep()
	if !ok {
		return RawFrame{}, false
	}
	d.stream.pattern = pattern

	endOfFrame := (pattern == PatternY && (d.stream.previous == PatternY || d.stream.previous == PatternZ)) ||
		d.stream.bytes == d.protocol.maxFrameSize

	if endOfFrame {
		if d.stream.bytes > 0 || d.stream.bits == 7 {
			if d.stream.bits >= 7 && d.stream.bytes < d.protocol.maxFrameSize {
				d.stream.buffer[d.stream.bytes] = d.stream.data
				d.stream.bytes++
			}

			if d.stream.previous == PatternZ {
				d.frame.frameEnd = d.symbol.start - uint64(d.bitrate.Period2)
			} else {
				d.frame.frameEnd = d.symbol.start - uint64(d.bitrate.Period1)
			}

			bytesOut := d.stream.bytes
			data := make([]byte, bytesOut)
			copy(data, d.stream.buffer[:bytesOut])

			frame := RawFrame{
				TechType:    TechNfcA,
				FrameType:   PollFrame,
				FrameFlags:  d.stream.flags,
				FrameRate:   d.frame.symbolRate,
				SampleStart: d.frame.frameStart,
				SampleEnd:   d.frame.frameEnd,
				SampleRate:  d.sampleRate,
				DateTime:    d.dateTime,
				Data:        data,
			}
			if bytesOut == d.protocol.maxFrameSize {
				frame.FrameFlags |= Truncated
			}
			if bytesOut == 1 && d.stream.bits == 7 {
				frame.FrameFlags |= ShortFrame
			}

			d.activeMod.symbolStartTime = 0
			d.activeMod.symbolEndTime = 0
			d.activeMod.filterIntegrate = 0
			d.activeMod.phaseIntegrate = 0
			d.stream = streamStatus{}

			d.frame.frameGuardTime = d.protocol.frameGuardTime
			d.frame.frameWaitingTime = d.protocol.frameWaitingTime
			d.classify(&frame)
			d.finalizeFrame(&frame)

			return frame, true
		}

		d.resetModulation()
		return RawFrame{}, false
	}

	if d.stream.previous != PatternInvalid {
		value := 0
		if d.stream.previous == PatternX {
			value = 1
		}

		switch {
		case d.stream.bits < 8:
			if value != 0 {
				d.stream.data |= 1 << uint(d.stream.bits)
			}
			d.stream.bits++
		case d.stream.bytes < d.protocol.maxFrameSize:
			d.stream.buffer[d.stream.bytes] = d.stream.data
			if !CheckParity(d.stream.data, value != 0) {
				d.stream.flags |= ParityError
			}
			d.stream.bytes++
			d.stream.data = 0
			d.stream.bits = 0
		default:
			d.resetModulation()
			return RawFrame{}, false
		}
	}

	d.stream.previous = d.stream.pattern
	return RawFrame{}, false
}

// finalizeFrame mirrors NfcA::process's post-dispatch bookkeeping: once a
// poll frame is classified, it derives the PICC response guard/waiting
// deadlines and switches the frame type to ListenFrame; once a listen
// frame is classified, it resets to the idle "search for next request"
// state.
func (d *Decoder) finalizeFrame(frame *RawFrame) {
	if frame.FrameType == PollFrame {
		if d.bitrate != nil {
			d.frame.guardEnd = d.frame.frameEnd + d.frame.frameGuardTime + uint64(d.bitrate.SymbolDelayDetect)
			d.frame.waitingEnd = d.frame.frameEnd + d.frame.frameWaitingTime + uint64(d.bitrate.SymbolDelayDetect)
			d.frame.frameType = ListenFrame
		}
	} else {
		d.frame.frameType = CarrierOff // idle sentinel: restart SoF search
		d.frame.lastCommand = 0
	}

	d.frame.frameStart = 0
	d.frame.frameEnd = 0
}

// decodeListenFrame dispatches to the ASK Manchester (106k) or BPSK
// (212k/424k) listen-symbol correlator for the rate locked by
// detectModulation (NfcA::decodeListenFrame's rateType switch).
func (d *Decoder) decodeListenFrame() (RawFrame, bool) {
	if d.bitrate.Rate == Rate106k {
		return d.decodeListenFrameAsk()
	}
	return d.decodeListenFrameBpsk()
}

// listenSymbolStepAsk advances the 106k listen correlator: the subcarrier
// envelope is squared into integrationData, then integrated over one
// symbol starting at frameGuardTime after the request. SoF requires the
// correlation peak to exceed the signal-variance threshold captured at
// guardEnd; once synced, a peak below threshold signals Pattern-F (EoF)
// (NfcA::decodeListenFrameSymbolAsk).
func (d *Decoder) listenSymbolStepAsk() (Pattern, bool) {
	mod := d.activeMod
	bitrate := d.bitrate

	mod.signalIndex = uint64(bitrate.OffsetSignal) + d.signal.clock
	mod.detectIndex = uint64(bitrate.OffsetDetect) + d.signal.clock

	currentData := d.signal.signalData[mod.signalIndex&(SignalBufferLength-1)]

	mod.symbolAverage = mod.symbolAverage*bitrate.SymbolAverageW0 + currentData*bitrate.SymbolAverageW1

	shifted := currentData - mod.symbolAverage
	mod.integrationData[mod.signalIndex&(SignalBufferLength-1)] = shifted * shifted

	if d.signal.clock > d.frame.guardEnd-uint64(bitrate.Period1) {
		mod.filterPoint1 = int(mod.signalIndex % uint64(bitrate.Period1))
		mod.filterPoint2 = int((mod.signalIndex + uint64(bitrate.Period2)) % uint64(bitrate.Period1))
		mod.filterPoint3 = int((mod.signalIndex + uint64(bitrate.Period1) - 1) % uint64(bitrate.Period1))

		mod.filterIntegrate += mod.integrationData[mod.signalIndex&(SignalBufferLength-1)]
		mod.filterIntegrate -= mod.integrationData[mod.detectIndex&(SignalBufferLength-1)]

		mod.correlationData[mod.filterPoint1] = mod.filterIntegrate

		mod.correlatedS0 = mod.correlationData[mod.filterPoint1] - mod.correlationData[mod.filterPoint2]
		mod.correlatedS1 = mod.correlationData[mod.filterPoint2] - mod.correlationData[mod.filterPoint3]
		mod.correlatedSD = float32(math.Abs(float64(mod.correlatedS0 - mod.correlatedS1)))
	}

	pattern := PatternInvalid

	if mod.symbolEndTime == 0 {
		if d.signal.clock > d.frame.guardEnd {
			if mod.correlatedSD > mod.searchThreshold && mod.correlatedSD > mod.correlationPeek {
				mod.searchPulseWidth++
				mod.searchPeakTime = d.signal.clock
				mod.searchEndTime = d.signal.clock + uint64(bitrate.Period4)
				mod.correlationPeek = mod.correlatedSD
			}

			if d.signal.clock == mod.searchEndTime {
				if mod.searchPulseWidth > uint64(bitrate.Period8) {
					mod.symbolStartTime = mod.searchPeakTime - uint64(bitrate.Period2)
					mod.symbolEndTime = mod.searchPeakTime + uint64(bitrate.Period2)

					d.symbol.value = 1
					d.symbol.start = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
					d.symbol.end = mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect)
					d.symbol.length = d.symbol.end - d.symbol.start

					pattern = PatternD
				} else {
					mod.searchStartTime = 0
					mod.searchEndTime = 0
					mod.correlationPeek = 0
					mod.searchPulseWidth = 0
					mod.correlatedSD = 0
				}
			}
		}

		if d.signal.clock == d.frame.guardEnd {
			mod.searchThreshold = d.signal.signalVariance
		}

		if pattern == PatternInvalid && d.signal.clock == d.frame.waitingEnd {
			pattern = PatternNone
		}
	} else {
		if mod.searchStartTime == 0 {
			mod.symbolStartTime = mod.symbolEndTime
			mod.symbolEndTime = mod.symbolStartTime + uint64(bitrate.Period1)

			mod.searchStartTime = mod.symbolEndTime - uint64(bitrate.Period8)
			mod.searchEndTime = mod.symbolEndTime + uint64(bitrate.Period8)

			mod.symbolCorr0 = 0
			mod.symbolCorr1 = 0
		}

		if d.signal.clock >= mod.searchStartTime && d.signal.clock <= mod.searchEndTime {
			if mod.correlatedSD > mod.correlationPeek {
				mod.correlationPeek = mod.correlatedSD
				mod.symbolCorr0 = mod.correlatedS0
				mod.symbolCorr1 = mod.correlatedS1
				mod.symbolEndTime = d.signal.clock
			}
		}

		if d.signal.clock == mod.searchEndTime {
			if mod.correlationPeek > mod.searchThreshold {
				d.symbol.start = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
				d.symbol.end = mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect)
				d.symbol.length = d.symbol.end - d.symbol.start

				if mod.symbolCorr0 > mod.symbolCorr1 {
					d.symbol.value = 0
					pattern = PatternE
				} else {
					d.symbol.value = 1
					pattern = PatternD
				}
			} else {
				pattern = PatternF
			}
		}
	}

	if pattern != PatternInvalid {
		d.symbol.pattern = pattern
		mod.searchStartTime = 0
		mod.searchEndTime = 0
		mod.correlationPeek = 0
		mod.searchPulseWidth = 0
		mod.correlatedSD = 0
	}

	return pattern, pattern != PatternInvalid
}

// decodeListenFrameAsk assembles the 106k PICC response: Pattern-D/E carry
// data bits directly (no previous-symbol indirection, unlike the poll
// Modified-Miller decode), Pattern-F or maxFrameSize marks end of frame,
// and a response needs at least one full byte or a 4-bit short frame.
func (d *Decoder) decodeListenFrameAsk() (RawFrame, bool) {
	pattern, ok := d.listenSymbolStepAsk()
	if !ok {
		return RawFrame{}, false
	}

	if d.frame.frameStart == 0 {
		if pattern == PatternD {
			d.frame.frameStart = d.symbol.start
		} else if pattern == PatternNone {
			d.resetModulation()
		}
		return RawFrame{}, false
	}

	if pattern == PatternF || d.stream.bytes == d.protocol.maxFrameSize {
		if d.stream.bytes > 0 || d.stream.bits == 4 {
			if d.stream.bits == 4 && d.stream.bytes < d.protocol.maxFrameSize {
				d.stream.buffer[d.stream.bytes] = d.stream.data
				d.stream.bytes++
			}
			d.frame.frameEnd = d.symbol.end

			bytesOut := d.stream.bytes
			data := make([]byte, bytesOut)
			copy(data, d.stream.buffer[:bytesOut])

			frame := RawFrame{
				TechType:    TechNfcA,
				FrameType:   ListenFrame,
				FrameFlags:  d.stream.flags,
				FrameRate:   d.bitrate.SymbolsPerSecond,
				SampleStart: d.frame.frameStart,
				SampleEnd:   d.frame.frameEnd,
				SampleRate:  d.sampleRate,
				DateTime:    d.dateTime,
				Data:        data,
			}
			if bytesOut == d.protocol.maxFrameSize {
				frame.FrameFlags |= Truncated
			}
			if bytesOut == 1 && d.stream.bits == 4 {
				frame.FrameFlags |= ShortFrame
			}

			d.classify(&frame)
			d.finalizeFrame(&frame)
			d.resetModulation()

			return frame, true
		}

		d.resetFrameSearch()
		return RawFrame{}, false
	}

	value := d.symbol.value
	switch {
	case d.stream.bits < 8:
		if value != 0 {
			d.stream.data |= 1 << uint(d.stream.bits)
		}
		d.stream.bits++
	case d.stream.bytes < d.protocol.maxFrameSize:
		d.stream.buffer[d.stream.bytes] = d.stream.data
		if !CheckParity(d.stream.data, value != 0) {
			d.stream.flags |= ParityError
		}
		d.stream.bytes++
		d.stream.data = 0
		d.stream.bits = 0
	default:
		d.resetModulation()
		return RawFrame{}, false
	}

	return RawFrame{}, false
}

// listenSymbolStepBpsk advances the 212k/424k listen correlator: a
// one-symbol delayed self-multiplication yields a differential phase
// signal, integrated into phaseIntegrate over one symbol; SoF fires on
// phaseIntegrate crossing a fixed threshold, after which re-sync is
// driven by a sign flip between the current integral and the locked
// symbolPhase (NfcA::decodeListenFrameSymbolBpsk).
func (d *Decoder) listenSymbolStepBpsk() (Pattern, bool) {
	mod := d.activeMod
	bitrate := d.bitrate

	mod.signalIndex = uint64(bitrate.OffsetSignal) + d.signal.clock
	mod.symbolIndex = uint64(bitrate.OffsetSymbol) + d.signal.clock
	mod.detectIndex = uint64(bitrate.OffsetDetect) + d.signal.clock

	currentSample := d.signal.signalData[mod.signalIndex&(SignalBufferLength-1)]
	delayedSample := d.signal.signalData[mod.symbolIndex&(SignalBufferLength-1)]

	mod.symbolAverage = mod.symbolAverage*bitrate.SymbolAverageW0 + currentSample*bitrate.SymbolAverageW1

	phase := (currentSample - mod.symbolAverage) * (delayedSample - mod.symbolAverage)
	mod.integrationData[mod.signalIndex&(SignalBufferLength-1)] = phase * 10

	if d.signal.clock > d.frame.guardEnd-uint64(bitrate.Period1) {
		mod.phaseIntegrate += mod.integrationData[mod.signalIndex&(SignalBufferLength-1)]
		mod.phaseIntegrate -= mod.integrationData[mod.detectIndex&(SignalBufferLength-1)]
	}

	pattern := PatternInvalid

	if mod.symbolEndTime == 0 {
		if mod.phaseIntegrate > 0.00025 {
			mod.searchPeakTime = d.signal.clock
			mod.searchEndTime = d.signal.clock + uint64(bitrate.Period2)
		}

		switch {
		case mod.searchEndTime != 0 && d.signal.clock == mod.searchEndTime:
			mod.symbolStartTime = mod.searchPeakTime
			mod.symbolEndTime = mod.searchPeakTime + uint64(bitrate.Period1)
			mod.symbolPhase = mod.phaseIntegrate
			mod.phaseThreshold = float32(math.Abs(float64(mod.phaseIntegrate / 3)))

			d.symbol.value = 0
			d.symbol.start = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
			d.symbol.end = mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect)
			d.symbol.length = d.symbol.end - d.symbol.start

			pattern = PatternM
		case d.signal.clock == d.frame.waitingEnd:
			pattern = PatternNone
		}
	} else {
		if (mod.phaseIntegrate > 0 && mod.symbolPhase < 0) || (mod.phaseIntegrate < 0 && mod.symbolPhase > 0) {
			mod.searchPeakTime = d.signal.clock
			mod.searchEndTime = d.signal.clock + uint64(bitrate.Period2)
			mod.symbolStartTime = d.signal.clock
			mod.symbolEndTime = d.signal.clock + uint64(bitrate.Period1)
			mod.symbolPhase = mod.phaseIntegrate
		}

		if mod.searchEndTime == 0 {
			mod.symbolStartTime = mod.symbolEndTime
			mod.symbolEndTime = mod.symbolStartTime + uint64(bitrate.Period1)
			mod.searchEndTime = mod.symbolStartTime + uint64(bitrate.Period2)
		} else if d.signal.clock == mod.searchEndTime {
			mod.symbolPhase = mod.phaseIntegrate

			d.symbol.start = mod.symbolStartTime - uint64(bitrate.SymbolDelayDetect)
			d.symbol.end = mod.symbolEndTime - uint64(bitrate.SymbolDelayDetect)
			d.symbol.length = d.symbol.end - d.symbol.start

			switch {
			case mod.phaseIntegrate > mod.phaseThreshold:
				pattern = d.symbol.pattern
			case mod.phaseIntegrate < -mod.phaseThreshold:
				if d.symbol.value == 0 {
					d.symbol.value = 1
				} else {
					d.symbol.value = 0
				}
				if d.symbol.pattern == PatternM {
					pattern = PatternN
				} else {
					pattern = PatternM
				}
			default:
				pattern = PatternO
			}
		}
	}

	if pattern != PatternInvalid {
		d.symbol.pattern = pattern
		mod.searchStartTime = 0
		mod.searchEndTime = 0
		mod.correlationPeek = 0
		mod.searchPulseWidth = 0
		mod.correlatedSD = 0
	}

	return pattern, pattern != PatternInvalid
}

// decodeListenFrameBpsk assembles the 212k/424k PICC response: 8 data
// bits plus one odd-parity bit per byte, Pattern-O marks end of frame
// (NfcA::decodeListenFrame's BPSK branch).
func (d *Decoder) decodeListenFrameBpsk() (RawFrame, bool) {
	pattern, ok := d.listenSymbolStepBpsk()
	if !ok {
		return RawFrame{}, false
	}

	if d.frame.frameStart == 0 {
		if pattern == PatternM {
			d.frame.frameStart = d.symbol.start
		} else if pattern == PatternNone {
			d.resetModulation()
		}
		return RawFrame{}, false
	}

	if pattern == PatternO {
		if d.stream.bits == 9 {
			if d.stream.bytes < d.protocol.maxFrameSize {
				d.stream.buffer[d.stream.bytes] = d.stream.data
				d.stream.bytes++
			}
			if !CheckParity(d.stream.data, d.stream.parity != 0) {
				d.stream.flags |= ParityError
			}
		}

		if d.stream.bytes > 0 {
			d.frame.frameEnd = d.symbol.start

			bytesOut := d.stream.bytes
			data := make([]byte, bytesOut)
			copy(data, d.stream.buffer[:bytesOut])

			frame := RawFrame{
				TechType:    TechNfcA,
				FrameType:   ListenFrame,
				FrameFlags:  d.stream.flags,
				FrameRate:   d.bitrate.SymbolsPerSecond,
				SampleStart: d.frame.frameStart,
				SampleEnd:   d.frame.frameEnd,
				SampleRate:  d.sampleRate,
				DateTime:    d.dateTime,
				Data:        data,
			}
			if bytesOut == d.protocol.maxFrameSize {
				frame.FrameFlags |= Truncated
			}

			d.classify(&frame)
			d.finalizeFrame(&frame)
			d.resetModulation()

			return frame, true
		}

		d.resetModulation()
		return RawFrame{}, false
	}

	value := 0
	if d.symbol.value != 0 {
		value = 1
	}

	switch {
	case d.stream.bits < 8:
		if value != 0 {
			d.stream.data |= 1 << uint(d.stream.bits)
		}
	case d.stream.bits < 9:
		d.stream.parity = value
	case d.stream.bytes < d.protocol.maxFrameSize:
		d.stream.buffer[d.stream.bytes] = d.stream.data
		if !CheckParity(d.stream.data, d.stream.parity != 0) {
			d.stream.flags |= ParityError
		}
		d.stream.bytes++
		d.stream.data = byte(value)
		d.stream.bits = 0
	default:
		d.resetModulation()
		return RawFrame{}, false
	}
	d.stream.bits++

	return RawFrame{}, false
}

// resetFrameSearch restarts SoF search for the currently locked rate
// without releasing the lock, for the case where a spurious listen-side
// pulse looked like Pattern-D but never produced a complete response.
func (d *Decoder) resetFrameSearch() {
	if d.activeMod != nil {
		d.activeMod.symbolEndTime = 0
		d.activeMod.searchPeakTime = 0
		d.activeMod.searchEndTime = 0
		d.activeMod.correlationPeek = 0
	}
	d.frame.frameStart = 0
}

// resetModulation releases the rate lock and returns the decoder to
// searching every candidate rate from scratch (NfcA::resetModulation).
func (d *Decoder) resetModulation() {
	for rate := range d.modulation {
		m := &d.modulation[rate]
		m.searchStartTime = 0
		m.searchEndTime = 0
		m.correlationPeek = 0
		m.searchPulseWidth = 0
		m.searchDeepValue = 0
		m.symbolAverage = 0
		m.symbolPhase = float32(math.NaN())
	}

	d.stream = streamStatus{}
	d.symbol = symbolStatus{}

	d.frame.frameType = CarrierOff // idle sentinel: restart SoF search
	d.frame.frameStart = 0
	d.frame.frameEnd = 0

	d.bitrate = nil
	d.activeMod = nil
}
