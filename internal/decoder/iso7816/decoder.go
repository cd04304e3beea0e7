// Package iso7816 implements the ISO-7816 T=0 contact decoder: an
// edge-triggered byte framer over a logic I/O (and optional CLK) channel,
// symmetric to the radio package's correlator engine but without
// correlators (spec.md §4.E). Frame-level dispatch only; this is not a
// general APDU interpreter.
package iso7816

import "github.com/josevcm/nfc-laboratory-go/internal/decoder/radio"

// DefaultETU is the default elementary time unit divisor (372 cycles per
// etu at the nominal ISO-7816 clock), used when the card's ATR has not yet
// been observed.
const DefaultETU = 372

// Decoder consumes an I/O edge stream sampled at sampleRate. Feed emits
// one RawFrame for the ATR (its first two bytes); bytes after that are
// accumulated and returned only by Flush, as a single IsoResponse frame.
// Request and response APDUs are not told apart.
type Decoder struct {
	sampleRate  uint32
	etuDivisor  int
	enableISO   bool
	enableDebug bool

	clockHz float64

	atrSeen bool
	atr     []byte

	assembling bool
	bitPos     int
	cur        byte
	bytes      []byte
	frameStart uint64
	lastLevel  bool
	samplesPerBit int
	sampleInBit   int
}

// New builds a Decoder for the given sample rate; clockHz is the card
// clock frequency used to derive the default etu (372/fc).
func New(sampleRate uint32, clockHz float64) *Decoder {
	d := &Decoder{
		sampleRate: sampleRate,
		etuDivisor: DefaultETU,
		clockHz:    clockHz,
	}
	d.recomputeBitWidth()
	return d
}

func (d *Decoder) recomputeBitWidth() {
	if d.clockHz <= 0 {
		d.clockHz = 3_579_545 // nominal ISO-7816 clock
	}
	etuSeconds := float64(d.etuDivisor) / d.clockHz
	d.samplesPerBit = int(etuSeconds * float64(d.sampleRate))
	if d.samplesPerBit < 1 {
		d.samplesPerBit = 1
	}
}

func (d *Decoder) SetEnableISO7816(v bool) { d.enableISO = v }
func (d *Decoder) SetEnableDebug(v bool)   { d.enableDebug = v }

// SetSampleRate reconfigures the bit-width estimate for a new sample rate.
func (d *Decoder) SetSampleRate(rate uint32) {
	d.sampleRate = rate
	d.recomputeBitWidth()
}

// Feed advances the decoder by one I/O-line sample (true = high/idle
// depending on convention; callers pass the raw logic level) and returns
// a completed RawFrame only when the second ATR byte closes out. Later
// bytes never produce a frame here; no direction change is detected.
func (d *Decoder) Feed(level bool, sampleClock uint64) (radio.RawFrame, bool) {
	if !d.enableISO {
		return radio.RawFrame{}, false
	}

	if !d.assembling {
		if level != d.lastLevel {
			d.beginByte(sampleClock)
		}
		d.lastLevel = level
		return radio.RawFrame{}, false
	}

	d.sampleInBit++
	if d.sampleInBit >= d.samplesPerBit {
		d.sampleInBit = 0
		bit := 0
		if level {
			bit = 1
		}
		if d.bitPos < 8 {
			if bit != 0 {
				d.cur |= 1 << uint(d.bitPos)
			}
			d.bitPos++
		} else {
			// stop bit consumed; close out the byte
			d.bytes = append(d.bytes, d.cur)
			d.cur = 0
			d.bitPos = 0
			d.assembling = false

			if !d.atrSeen {
				d.atr = append(d.atr, d.bytes[len(d.bytes)-1])
				if len(d.atr) >= 2 {
					d.atrSeen = true
					frame := d.flush(radio.IsoResponse, sampleClock)
					d.atr = nil
					return frame, true
				}
			}
		}
	}
	d.lastLevel = level
	return radio.RawFrame{}, false
}

func (d *Decoder) beginByte(sampleClock uint64) {
	d.assembling = true
	d.bitPos = 0
	d.sampleInBit = 0
	d.cur = 0
	if d.frameStart == 0 {
		d.frameStart = sampleClock
	}
}

func (d *Decoder) flush(ft radio.FrameType, end uint64) radio.RawFrame {
	data := make([]byte, len(d.bytes))
	copy(data, d.bytes)
	f := radio.RawFrame{
		TechType:    radio.TechIso7816,
		FrameType:   ft,
		SampleStart: d.frameStart,
		SampleEnd:   end,
		SampleRate:  d.sampleRate,
		Data:        data,
	}
	d.bytes = nil
	d.frameStart = 0
	return f
}

// Flush closes out any partially assembled frame at end-of-stream,
// discarding a partial byte per spec.md §4.D's terminal-state rule
// ("any partial frame is discarded").
func (d *Decoder) Flush() (radio.RawFrame, bool) {
	if len(d.bytes) == 0 {
		return radio.RawFrame{}, false
	}
	return d.flush(radio.IsoResponse, d.frameStart), true
}
