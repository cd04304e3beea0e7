// Package radio implements the NFC-A/B/F/V physical-layer demodulator:
// ASK/BPSK correlators and symbol state machines recovering bit/symbol
// streams from a stream of magnitude samples (spec.md §4.D), grounded on
// original_source/.../type/NfcA.cpp and NfcStatus.h.
package radio

import "fmt"

// TechType identifies the contactless technology a frame belongs to.
type TechType int

const (
	TechNfcA TechType = iota
	TechNfcB
	TechNfcF
	TechNfcV
	TechIso7816
)

func (t TechType) String() string {
	switch t {
	case TechNfcA:
		return "NfcA"
	case TechNfcB:
		return "NfcB"
	case TechNfcF:
		return "NfcF"
	case TechNfcV:
		return "NfcV"
	case TechIso7816:
		return "Iso7816"
	default:
		return "Unknown"
	}
}

// FrameType classifies a RawFrame's place in the carrier/poll/listen cycle.
type FrameType int

const (
	CarrierOff FrameType = iota
	CarrierOn
	PollFrame
	ListenFrame
	IsoRequest
	IsoResponse
)

func (t FrameType) String() string {
	switch t {
	case CarrierOff:
		return "CarrierOff"
	case CarrierOn:
		return "CarrierOn"
	case PollFrame:
		return "Poll"
	case ListenFrame:
		return "Listen"
	case IsoRequest:
		return "IsoRequest"
	case IsoResponse:
		return "IsoResponse"
	default:
		return "Unknown"
	}
}

// FramePhase classifies a frame within the protocol handshake.
type FramePhase int

const (
	PhaseCarrier FramePhase = iota
	PhaseSelection
	PhaseApplication
	PhaseAuth
)

// Flags is a bit set over the flag values below.
type Flags uint32

const (
	ShortFrame Flags = 1 << iota
	CrcError
	ParityError
	SyncError
	Truncated
	Encrypted
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Names returns the lower-kebab flag names set in f, in the fixed order
// used by the --print-frames JSON output (spec.md §6).
func (f Flags) Names() []string {
	var out []string
	add := func(bit Flags, name string) {
		if f.Has(bit) {
			out = append(out, name)
		}
	}
	add(ShortFrame, "short-frame")
	add(CrcError, "crc-error")
	add(ParityError, "parity-error")
	add(SyncError, "sync-error")
	add(Truncated, "truncated")
	add(Encrypted, "encrypted")
	return out
}

// RawFrame is a finite byte sequence with timing and protocol metadata,
// per spec.md §3.
type RawFrame struct {
	TechType   TechType
	FrameType  FrameType
	FramePhase FramePhase
	FrameFlags Flags
	FrameRate  uint32 // symbols/s; 0 for carrier on/off frames

	SampleStart uint64
	SampleEnd   uint64
	SampleRate  uint32

	TimeStart float64
	TimeEnd   float64
	DateTime  float64

	Data []byte
}

// Duration reports SampleEnd - SampleStart in samples.
func (f RawFrame) Duration() uint64 {
	if f.SampleEnd < f.SampleStart {
		return 0
	}
	return f.SampleEnd - f.SampleStart
}

func (f RawFrame) String() string {
	return fmt.Sprintf("%s %s [%x] start=%d end=%d", f.TechType, f.FrameType, f.Data, f.SampleStart, f.SampleEnd)
}

// MaxFrameSizeForFSDI implements TABLE_FDS from spec.md §4.D: values 9..14
// are reserved and map to 0 (a protocol error, frame must be rejected);
// 15 maps to the RFU ceiling of 256 as in the table's final entries.
var maxFrameSizeTable = [16]int{16, 24, 32, 40, 48, 64, 96, 128, 256, 0, 0, 0, 0, 0, 0, 256}

// MaxFrameSizeForFSDI looks up TABLE_FDS[fsdi]. Callers must treat a
// return of 0 as a protocol error (RATS request rejected), per spec.md §8
// boundary "FSDI = 9..14 -> TABLE_FDS returns 0".
func MaxFrameSizeForFSDI(fsdi int) int {
	if fsdi < 0 || fsdi > 15 {
		return 0
	}
	return maxFrameSizeTable[fsdi]
}
