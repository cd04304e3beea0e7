// Package radio (device) provides an SDR IQ sample source: a multicast
// UDP listener reading each datagram whole as interleaved little-endian
// int16 IQ samples (no RTP header is parsed), plus
// auto-gain control over the incoming magnitude (spec.md §6 "auto-gain
// logic"). Grounded on the teacher's radiod.go multicast join sequence
// (golang.org/x/net/ipv4 PacketConn.JoinGroup on every multicast-capable
// interface, with a loopback fallback).
package radio

import (
	"net"

	"golang.org/x/net/ipv4"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
	"github.com/josevcm/nfc-laboratory-go/internal/logx"
	"github.com/josevcm/nfc-laboratory-go/internal/signal"
)

var log = logx.For("device.radio")

// Source listens on a multicast IQ stream and decodes incoming UDP
// datagrams into interleaved IQ signal buffers.
type Source struct {
	conn       *net.UDPConn
	packetConn *ipv4.PacketConn
	sampleRate uint32

	gain     float32
	gainTarget float32
}

// Open joins addr (host:port) on every multicast-capable interface,
// falling back to the loopback interface if none advertise multicast
// support, matching radiod.go's join loop.
func Open(addr string, sampleRate uint32) (*Source, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, errs.MissingParameters, "resolve multicast address", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: udpAddr.IP, Port: udpAddr.Port})
	if err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "listen on multicast socket", err)
	}

	p := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := false
	var loopback *net.Interface
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 {
			loopback = &iface
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(&iface, udpAddr); err == nil {
			joined = true
		} else {
			log.Warn("failed to join multicast group", "interface", iface.Name, "error", err)
		}
	}
	if !joined && loopback != nil {
		if err := p.JoinGroup(loopback, udpAddr); err != nil {
			log.Warn("failed to join multicast group on loopback", "error", err)
		}
	}

	return &Source{conn: conn, packetConn: p, sampleRate: sampleRate, gain: 1.0, gainTarget: 0.5}, nil
}

// ReadBuffer reads one UDP datagram and decodes it as interleaved
// 16-bit-signed IQ samples into a RawIq signal.Buffer, applying the
// current auto-gain scale.
func (s *Source) ReadBuffer() (*signal.Buffer, error) {
	raw := make([]byte, 65536)
	n, err := s.conn.Read(raw)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, errs.MissingParameters, "read iq datagram", err)
	}
	raw = raw[:n]

	count := n / 2
	b := signal.New(signal.RawIq, "radio", s.sampleRate, 2, count)
	peak := float32(0)
	samples := make([]float32, count)
	for i := 0; i < count; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		f := float32(v) / 32768 * s.gain
		samples[i] = f
		a := f
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	s.adjustGain(peak)

	if err := b.PutSlice(samples); err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.MissingParameters, "fill iq buffer", err)
	}
	b.Flip()
	return b, nil
}

// adjustGain nudges s.gain toward gainTarget/peak, a simple proportional
// auto-gain loop avoiding both clipping and underflow.
func (s *Source) adjustGain(peak float32) {
	if peak <= 0 {
		return
	}
	desired := s.gainTarget / peak
	s.gain += (desired - s.gain) * 0.05
	if s.gain < 0.01 {
		s.gain = 0.01
	}
	if s.gain > 100 {
		s.gain = 100
	}
}

// Close releases the multicast socket.
func (s *Source) Close() error {
	return s.conn.Close()
}
