// Package capture implements raw multichannel WAV-like signal capture and
// playback (spec.md §4.H): one open record device per active stream,
// created lazily from the first signal buffer's sample rate and channel
// count, streamed back in fixed-size chunks on read.
package capture

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
	"github.com/josevcm/nfc-laboratory-go/internal/signal"
)

// ReadChunkSamples is the fixed chunk size (in samples per channel) used
// when streaming a capture back into signal buffers.
const ReadChunkSamples = 65536

const waveHeaderSize = 44

// Recorder appends interleaved PCM samples from successive signal
// buffers to a RIFF/WAVE file, created on the first Write call and
// finalized (header rewritten with the true data length) on Close.
type Recorder struct {
	f            *os.File
	sampleRate   uint32
	channels     int
	bitsPerSample int
	dataBytes    uint32
	opened       bool
}

// NewRecorder returns an unopened Recorder; it lazily creates path on the
// first Write, using the buffer's SampleRate/Stride and bitsPerSample
// (16 for radio, 8 for logic, per spec.md §4.H).
func NewRecorder(bitsPerSample int) *Recorder {
	return &Recorder{bitsPerSample: bitsPerSample}
}

// Write appends b's samples, opening the backing file on first call.
func (r *Recorder) Write(path string, b *signal.Buffer) error {
	if !b.IsValid() {
		return r.Close()
	}
	if !r.opened {
		f, err := os.Create(path)
		if err != nil {
			return errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "create capture file", err)
		}
		r.f = f
		r.sampleRate = b.SampleRate
		r.channels = b.Stride
		if r.channels < 1 {
			r.channels = 1
		}
		if _, err := r.f.Write(make([]byte, waveHeaderSize)); err != nil {
			return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "reserve wave header", err)
		}
		r.opened = true
	}

	n := b.Elements()
	raw := b.Raw()[:n]
	buf := make([]byte, 0, n*(r.bitsPerSample/8))
	for _, v := range raw {
		if r.bitsPerSample == 16 {
			q := int16(v * 32767)
			buf = append(buf, byte(uint16(q)), byte(uint16(q)>>8))
		} else {
			q := uint8(int16(v*127) + 128)
			buf = append(buf, q)
		}
	}
	if _, err := r.f.Write(buf); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "append capture samples", err)
	}
	r.dataBytes += uint32(len(buf))
	return nil
}

// Close rewrites the finalized RIFF header and closes the file.
func (r *Recorder) Close() error {
	if !r.opened {
		return nil
	}
	header := waveHeader(r.sampleRate, r.channels, r.bitsPerSample, r.dataBytes)
	if _, err := r.f.WriteAt(header, 0); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "finalize wave header", err)
	}
	r.opened = false
	return r.f.Close()
}

func waveHeader(sampleRate uint32, channels, bitsPerSample int, dataBytes uint32) []byte {
	h := make([]byte, waveHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataBytes)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], sampleRate)
	blockAlign := channels * bitsPerSample / 8
	byteRate := int(sampleRate) * blockAlign
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataBytes)
	return h
}

// Player streams a WAVE file back in ReadChunkSamples-sized signal
// buffers, rejecting anything but mono or stereo channel counts.
type Player struct {
	f          *os.File
	sampleRate uint32
	channels   int
	bitsPerSample int
	dataStart  int64
	dataLen    uint32
}

// OpenPlayer parses the RIFF header and positions at the start of the
// PCM data chunk.
func OpenPlayer(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "open capture for read", err)
	}
	hdr := make([]byte, waveHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Format, errs.InvalidStorageFormat, "truncated wave header", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		f.Close()
		return nil, errs.New(errs.Format, errs.InvalidStorageFormat, "not a wave file")
	}
	channels := int(binary.LittleEndian.Uint16(hdr[22:24]))
	if channels != 1 && channels != 2 {
		f.Close()
		return nil, errs.New(errs.Format, errs.InvalidStorageFormat, "unsupported channel count")
	}
	return &Player{
		f:             f,
		sampleRate:    binary.LittleEndian.Uint32(hdr[24:28]),
		channels:      channels,
		bitsPerSample: int(binary.LittleEndian.Uint16(hdr[34:36])),
		dataStart:     waveHeaderSize,
		dataLen:       binary.LittleEndian.Uint32(hdr[40:44]),
	}, nil
}

// Next reads up to ReadChunkSamples samples per channel, returning an
// invalid (EOF) buffer once the data chunk is exhausted. For a 2-channel
// (IQ) file it also returns a derived magnitude buffer alongside the raw
// interleaved one, per spec.md §4.H.
func (p *Player) Next() (raw *signal.Buffer, magnitude *signal.Buffer, err error) {
	bytesPerSample := p.bitsPerSample / 8
	want := ReadChunkSamples * p.channels * bytesPerSample
	buf := make([]byte, want)
	n, readErr := io.ReadFull(p.f, buf)
	if n == 0 {
		return signal.Invalid(signal.RawReal, "capture"), nil, nil
	}
	buf = buf[:n-n%(p.channels*bytesPerSample)]

	count := len(buf) / bytesPerSample
	out := signal.New(signal.RawReal, "capture", p.sampleRate, p.channels, count)
	for i := 0; i < count; i += p.channels {
		for c := 0; c < p.channels; c++ {
			off := (i + c) * bytesPerSample
			out.Push(1)
			v := sampleFromBytes(buf[off:off+bytesPerSample], p.bitsPerSample)
			out.Raw()[i+c] = v
		}
	}
	out.Flip()

	if p.channels == 2 {
		mag := signal.New(signal.RawReal, "capture-mag", p.sampleRate, 1, count/2)
		raw := out.Raw()
		for i := 0; i+1 < len(raw); i += 2 {
			mag.Push(1)
			iq := raw[i]*raw[i] + raw[i+1]*raw[i+1]
			mag.Raw()[i/2] = sqrt32(iq)
		}
		mag.Flip()
		magnitude = mag
	}

	if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
		return out, magnitude, nil
	}
	return out, magnitude, readErr
}

func sampleFromBytes(b []byte, bits int) float32 {
	if bits == 16 {
		v := int16(uint16(b[0]) | uint16(b[1])<<8)
		return float32(v) / 32768
	}
	return (float32(b[0]) - 128) / 128
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	// Newton-Raphson, four iterations starting from x = v.
	x := v
	for i := 0; i < 4; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// Close releases the file handle.
func (p *Player) Close() error { return p.f.Close() }
