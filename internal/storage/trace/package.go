package trace

import (
	"archive/zip"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/klauspost/compress/flate"

	"github.com/josevcm/nfc-laboratory-go/internal/decoder/radio"
	"github.com/josevcm/nfc-laboratory-go/internal/errs"
	"github.com/josevcm/nfc-laboratory-go/internal/logx"
)

var log = logx.For("trace")

// FrameEntry is the JSON representation of one RawFrame inside a trace's
// frames.json entry, per spec.md §4.G step 2.
type FrameEntry struct {
	SampleStart uint64  `json:"sampleStart"`
	SampleEnd   uint64  `json:"sampleEnd"`
	SampleRate  uint32  `json:"sampleRate"`
	TimeStart   float64 `json:"timeStart"`
	TimeEnd     float64 `json:"timeEnd"`
	TechType    string  `json:"techType"`
	FrameType   string  `json:"frameType"`
	FrameRate   uint32  `json:"frameRate"`
	FrameFlags  []string `json:"frameFlags"`
	FramePhase  string  `json:"framePhase"`
	DateTime    float64 `json:"dateTime"`
	FrameData   string  `json:"frameData"`
}

type frameDocument struct {
	Frames []FrameEntry `json:"frames"`
}

// Writer accumulates a trace package's entries and flushes them as a zip
// container (the flate-based deflate codec mirrors klauspost/compress's
// role elsewhere in the teacher's stack: bounded-memory streaming
// compression rather than a whole-buffer gzip round trip).
type Writer struct {
	zw    *zip.Writer
	f     *os.File
	mqtt  mqtt.Client
	topic string
}

// Open truncates and opens path for writing, registering klauspost's
// flate at BestSpeed as the Deflate compressor, which favours write speed
// over compression ratio.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "open trace package for write", err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
	return &Writer{zw: zw, f: f}, nil
}

// OpenWithBroker is Open plus an MQTT broker that WriteFrames publishes its
// frame count to as each trace's frame index is written, mirroring the
// teacher's mqtt_publisher.go connect-then-publish pattern so a trace
// capture can be mirrored to a dashboard as it's produced.
func OpenWithBroker(path, broker, topic string) (*Writer, error) {
	w, err := Open(path)
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("nfclab-" + randomClientSuffix())
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Warn("mqtt broker connect failed, continuing without live publish", "error", token.Error())
		return w, nil
	}
	w.mqtt = client
	w.topic = topic
	return w, nil
}

func randomClientSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WriteFrames emits the frames.json entry.
func (w *Writer) WriteFrames(entries []FrameEntry) error {
	fw, err := w.zw.Create("frames.json")
	if err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "create frames.json entry", err)
	}
	enc := json.NewEncoder(fw)
	if err := enc.Encode(frameDocument{Frames: entries}); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "encode frames.json", err)
	}
	log.Debug("wrote frame index", "count", len(entries))

	if w.mqtt != nil {
		payload, _ := json.Marshal(map[string]int{"frames": len(entries)})
		w.mqtt.Publish(w.topic, 0, false, payload)
	}
	return nil
}

// WriteLogicStream emits a logic-{id}.apcm entry.
func (w *Writer) WriteLogicStream(streamID int, h Header, samples []LogicSample) error {
	name := entryName("logic", streamID)
	fw, err := w.zw.Create(name)
	if err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "create "+name, err)
	}
	if _, err := fw.Write(EncodeHeader(h)); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "write "+name+" header", err)
	}
	if _, err := fw.Write(EncodeLogicRecords(samples)); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "write "+name+" body", err)
	}
	return nil
}

// WriteRadioStream emits a radio-{id}.apcm entry.
func (w *Writer) WriteRadioStream(streamID int, h Header, samples []RadioSample) error {
	name := entryName("radio", streamID)
	fw, err := w.zw.Create(name)
	if err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "create "+name, err)
	}
	if _, err := fw.Write(EncodeHeader(h)); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "write "+name+" header", err)
	}
	if _, err := fw.Write(EncodeRadioRecords(samples)); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "write "+name+" body", err)
	}
	return nil
}

// Close finalizes the zip central directory and closes the file.
func (w *Writer) Close() error {
	if w.mqtt != nil {
		w.mqtt.Disconnect(250)
	}
	if err := w.zw.Close(); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "finalize trace package", err)
	}
	return w.f.Close()
}

func entryName(kind string, id int) string {
	return kind + "-" + itoa(id) + ".apcm"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Reader streams entries back out of a trace package in archive order.
type Reader struct {
	zr *zip.ReadCloser
}

// OpenReader opens path for reading.
func OpenReader(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "open trace package for read", err)
	}
	return &Reader{zr: zr}, nil
}

// ReadFrames decodes the frames.json entry, if present.
func (r *Reader) ReadFrames() ([]FrameEntry, error) {
	for _, f := range r.zr.File {
		if f.Name != "frames.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrap(errs.FatalIO, errs.ReadDataFailed, "open frames.json", err)
		}
		defer rc.Close()
		var doc frameDocument
		if err := json.NewDecoder(rc).Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.Format, errs.InvalidStorageFormat, "decode frames.json", err)
		}
		return doc.Frames, nil
	}
	return nil, nil
}

// ReadStream returns the raw body (header + records) of one logic-*/radio-*
// entry by name.
func (r *Reader) ReadStream(name string) ([]byte, error) {
	for _, f := range r.zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrap(errs.FatalIO, errs.ReadDataFailed, "open "+name, err)
		}
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, errs.Wrap(errs.FatalIO, errs.ReadDataFailed, "read "+name, err)
		}
		return body, nil
	}
	return nil, errs.New(errs.InvalidInput, errs.MissingFileName, "entry not found: "+name)
}

// Entries lists every entry name in archive order.
func (r *Reader) Entries() []string {
	names := make([]string, 0, len(r.zr.File))
	for _, f := range r.zr.File {
		names = append(names, f.Name)
	}
	return names
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.zr.Close() }

// FrameEntryFromRaw converts a decoded RawFrame plus its protocol-level
// classification into the package's JSON representation, with sample
// fields shifted by rangeOffset (spec.md §4.G step 2).
func FrameEntryFromRaw(f radio.RawFrame, rangeOffset uint64) FrameEntry {
	phase := ""
	switch f.FramePhase {
	case radio.PhaseCarrier:
		phase = "Carrier"
	case radio.PhaseSelection:
		phase = "Selection"
	case radio.PhaseApplication:
		phase = "Application"
	case radio.PhaseAuth:
		phase = "Auth"
	}
	return FrameEntry{
		SampleStart: f.SampleStart - rangeOffset,
		SampleEnd:   f.SampleEnd - rangeOffset,
		SampleRate:  f.SampleRate,
		TimeStart:   f.TimeStart,
		TimeEnd:     f.TimeEnd,
		TechType:    f.TechType.String(),
		FrameType:   f.FrameType.String(),
		FrameRate:   f.FrameRate,
		FrameFlags:  f.FrameFlags.Names(),
		FramePhase:  phase,
		DateTime:    f.DateTime,
		FrameData:   hexColonJoin(f.Data),
	}
}

func hexColonJoin(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(data)*3-1)
	for i, b := range data {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}
