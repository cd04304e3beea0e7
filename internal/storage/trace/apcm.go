// Package trace implements the append-only trace package format: decoded
// frames as JSON plus delta-coded logic/radio signal entries (spec.md
// §4.G), grounded on the teacher's JSON-lines persistence style
// (formerly root *_log.go helpers, now rewritten against this package's
// own frame/sample model) and using klauspost/compress for entry bodies.
package trace

import (
	"encoding/binary"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
)

const apcmMagic = "APCM"
const apcmVersion = 2
const apcmHeaderSize = 32

// Header is the fixed 32-byte APCM stream header.
type Header struct {
	Flags       uint32
	StartOffset uint32
	TotalSamples uint32
	StreamID    uint32
	SampleRate  uint32
}

// EncodeHeader writes a Header in the wire layout: magic, version, then
// five little-endian u32 info slots padded to 32 bytes total.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, apcmHeaderSize)
	copy(buf[0:4], apcmMagic)
	binary.LittleEndian.PutUint32(buf[4:8], apcmVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.StartOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.TotalSamples)
	binary.LittleEndian.PutUint32(buf[20:24], h.StreamID)
	binary.LittleEndian.PutUint32(buf[24:28], h.SampleRate)
	return buf
}

// DecodeHeader parses a 32-byte APCM header, rejecting a magic mismatch
// or short buffer as a format error.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < apcmHeaderSize {
		return Header{}, errs.New(errs.Format, errs.InvalidStorageFormat, "apcm header truncated")
	}
	if string(buf[0:4]) != apcmMagic {
		return Header{}, errs.New(errs.Format, errs.InvalidStorageFormat, "apcm magic mismatch")
	}
	return Header{
		Flags:        binary.LittleEndian.Uint32(buf[8:12]),
		StartOffset:  binary.LittleEndian.Uint32(buf[12:16]),
		TotalSamples: binary.LittleEndian.Uint32(buf[16:20]),
		StreamID:     binary.LittleEndian.Uint32(buf[20:24]),
		SampleRate:   binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// LogicSample is one delta-coded logic record: gap from the previous
// emitted sample index, and an 8-bit value.
type LogicSample struct {
	DeltaOffset uint8
	Value       uint8
}

// EncodeLogicRecords packs LogicSample entries as 2-byte (delta_offset,
// value) pairs.
func EncodeLogicRecords(samples []LogicSample) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, s.DeltaOffset, s.Value)
	}
	return out
}

// DecodeLogicRecords unpacks a logic-{id}.apcm body into LogicSamples.
func DecodeLogicRecords(body []byte) ([]LogicSample, error) {
	if len(body)%2 != 0 {
		return nil, errs.New(errs.Format, errs.InvalidStorageFormat, "logic apcm body not a multiple of record size")
	}
	out := make([]LogicSample, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		out = append(out, LogicSample{DeltaOffset: body[i], Value: body[i+1]})
	}
	return out, nil
}

// RadioSample is one delta-coded radio record: gap from the previous
// emitted sample index, plus a signed 16-bit delta against the running
// i16-quantised accumulator.
type RadioSample struct {
	DeltaOffset uint8
	DeltaSample int16
}

// EncodeRadioRecords packs RadioSample entries as 3-byte (delta_offset
// u8, delta_sample i16 little-endian) records.
func EncodeRadioRecords(samples []RadioSample) []byte {
	out := make([]byte, 0, len(samples)*3)
	for _, s := range samples {
		out = append(out, s.DeltaOffset)
		out = append(out, byte(uint16(s.DeltaSample)), byte(uint16(s.DeltaSample)>>8))
	}
	return out
}

// DecodeRadioRecords unpacks a radio-{id}.apcm body into RadioSamples.
func DecodeRadioRecords(body []byte) ([]RadioSample, error) {
	if len(body)%3 != 0 {
		return nil, errs.New(errs.Format, errs.InvalidStorageFormat, "radio apcm body not a multiple of record size")
	}
	out := make([]RadioSample, 0, len(body)/3)
	for i := 0; i < len(body); i += 3 {
		delta := int16(uint16(body[i+1]) | uint16(body[i+2])<<8)
		out = append(out, RadioSample{DeltaOffset: body[i], DeltaSample: delta})
	}
	return out, nil
}

// QuantizeRadio converts a float32 sample in [-1, 1] to the i16 fixed-point
// representation used by the radio APCM record (sample = float * 2^15),
// saturating at the i16 range.
func QuantizeRadio(sample float32) int16 {
	scaled := int32(sample * 32768)
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}

// DequantizeRadio reverses QuantizeRadio.
func DequantizeRadio(v int16) float32 {
	return float32(v) / 32768
}

// DeltaEncodeLogic delta-codes a set of (index, value) emissions relative
// to startOffset, per spec.md §4.G step 3: "first sample relative to
// start_offset". Indices must be sorted ascending.
func DeltaEncodeLogic(startOffset uint64, indices []uint64, values []uint8) []LogicSample {
	out := make([]LogicSample, 0, len(indices))
	prev := startOffset
	for i, idx := range indices {
		out = append(out, LogicSample{DeltaOffset: uint8(idx - prev), Value: values[i]})
		prev = idx
	}
	return out
}

// DeltaEncodeRadio delta-codes (index, float value) emissions relative to
// startOffset and a running quantized accumulator, per spec.md §4.G step 4.
func DeltaEncodeRadio(startOffset uint64, indices []uint64, values []float32) []RadioSample {
	out := make([]RadioSample, 0, len(indices))
	prev := startOffset
	var acc int16
	for i, idx := range indices {
		q := QuantizeRadio(values[i])
		out = append(out, RadioSample{DeltaOffset: uint8(idx - prev), DeltaSample: q - acc})
		acc = q
		prev = idx
	}
	return out
}
