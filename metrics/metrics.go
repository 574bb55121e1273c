// Package metrics provides Prometheus metrics for the FUSE dispatcher.
//
// Metrics are optional: when no registry is supplied the dispatcher uses a
// no-op Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder observes dispatcher activity
type Recorder interface {
	// RecordRequest records a completed kernel request. status is "OK" or
	// the errno name the request failed with.
	RecordRequest(op string, duration time.Duration, status string)

	// RecordBytes records payload bytes moved by read ("read") or write ("write")
	RecordBytes(direction string, n int)

	// SetKernelRefs reports how many identifiers the kernel currently references
	SetKernelRefs(n int)
}

// NewNoop returns a Recorder that discards everything
func NewNoop() Recorder {
	return noop{}
}

type noop struct{}

func (noop) RecordRequest(string, time.Duration, string) {}
func (noop) RecordBytes(string, int)                     {}
func (noop) SetKernelRefs(int)                           {}

// promRecorder is the Prometheus implementation of Recorder
type promRecorder struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	kernelRefs       prometheus.Gauge
}

// New registers the vylfs collectors on reg and returns a Recorder feeding
// them. A nil reg yields the no-op Recorder.
func New(reg prometheus.Registerer) Recorder {
	if reg == nil {
		return NewNoop()
	}
	return &promRecorder{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vylfs_requests_total",
				Help: "Total number of FUSE requests by operation and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vylfs_request_duration_seconds",
				Help:    "Duration of FUSE requests",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
			[]string{"op"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vylfs_bytes_transferred_total",
				Help: "Total content bytes read or written",
			},
			[]string{"direction"},
		),
		kernelRefs: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "vylfs_kernel_refs",
				Help: "Number of identifiers currently referenced by the kernel",
			},
		),
	}
}

func (m *promRecorder) RecordRequest(op string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *promRecorder) RecordBytes(direction string, n int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *promRecorder) SetKernelRefs(n int) {
	m.kernelRefs.Set(float64(n))
}
