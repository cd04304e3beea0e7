// Package metrics exposes per-worker Prometheus counters/gauges (frames
// decoded, CRC errors, USB transfer stalls, queue depth), served on
// /metrics the way the teacher's prometheus.go registers its SDR metrics
// (spec.md's worker-status model folded into gauges rather than invented
// from scratch).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the gauge/counter vectors this module exposes, one
// instance per process.
type Registry struct {
	FramesDecoded  *prometheus.CounterVec
	CrcErrors      *prometheus.CounterVec
	ParityErrors   *prometheus.CounterVec
	UsbStalls      prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
	WorkerStatus   *prometheus.GaugeVec
}

// New registers every metric against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfclab",
			Name:      "frames_decoded_total",
			Help:      "Number of decoded frames, by technology and frame type.",
		}, []string{"tech", "frame_type"}),
		CrcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfclab",
			Name:      "crc_errors_total",
			Help:      "Number of frames with a CRC mismatch, by technology.",
		}, []string{"tech"}),
		ParityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfclab",
			Name:      "parity_errors_total",
			Help:      "Number of frames with a parity mismatch, by technology.",
		}, []string{"tech"}),
		UsbStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfclab",
			Name:      "usb_transfer_stalls_total",
			Help:      "Number of USB bulk transfer stalls observed by the logic device.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nfclab",
			Name:      "queue_depth",
			Help:      "Current depth of a named blocking queue.",
		}, []string{"queue"}),
		WorkerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nfclab",
			Name:      "worker_status",
			Help:      "1 if the named worker is in the given status, else 0.",
		}, []string{"worker", "status"}),
	}

	reg.MustRegister(m.FramesDecoded, m.CrcErrors, m.ParityErrors, m.UsbStalls, m.QueueDepth, m.WorkerStatus)
	return m
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
