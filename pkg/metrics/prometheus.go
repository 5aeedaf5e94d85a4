package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder records into a private Prometheus registry.
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	packets    *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	mppe       *prometheus.CounterVec
	k3         *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new Prometheus recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapcrack_packets_total",
			Help: "Classified capture packets by kind.",
		}, []string{"kind"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapcrack_handshakes_total",
			Help: "Completed MS-CHAPv2 handshakes by NT hash match.",
		}, []string{"verified"}),
		mppe: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapcrack_mppe_packets_total",
			Help: "MPPE packets by direction and outcome.",
		}, []string{"direction", "result"}),
		k3: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapcrack_k3_crack_seconds",
			Help:    "Duration of K3 searches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"found"}),
	}
	r.registry.MustRegister(r.packets, r.handshakes, r.mppe, r.k3)
	return r
}

func (r *PrometheusRecorder) Packet(kind string) {
	r.packets.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) Handshake(verified bool) {
	r.handshakes.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

func (r *PrometheusRecorder) MppePacket(direction, result string) {
	r.mppe.WithLabelValues(direction, result).Inc()
}

func (r *PrometheusRecorder) K3Crack(d time.Duration, found bool) {
	r.k3.WithLabelValues(strconv.FormatBool(found)).Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile collector format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}
