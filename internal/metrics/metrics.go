// Package metrics implements Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesTotal counts delimited frames handed to the decoder
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpansniff_frames_total",
			Help: "Total number of frames split from the sniffer stream",
		},
	)

	// DecodeErrorsTotal counts dropped frames by error kind
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpansniff_decode_errors_total",
			Help: "Total number of frames that failed to decode",
		},
		[]string{"kind"},
	)

	// PacketsTotal counts decoded packets by protocol
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpansniff_packets_total",
			Help: "Total number of decoded packets",
		},
		[]string{"protocol"},
	)

	// ChecksumInvalidTotal counts ICMPv6 packets whose checksum did not verify
	ChecksumInvalidTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpansniff_checksum_invalid_total",
			Help: "Total number of ICMPv6 packets with an invalid checksum",
		},
	)

	// TopologyNodes tracks the number of vertices in the topology
	TopologyNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lowpansniff_topology_nodes",
			Help: "Current number of nodes in the topology",
		},
	)

	// TopologyEdges tracks the number of directed edges in the topology
	TopologyEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lowpansniff_topology_edges",
			Help: "Current number of directed edges in the topology",
		},
	)

	// FramesDiscardedTotal counts unterminated stream tails dropped for
	// exceeding capture.max_frame_size
	FramesDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpansniff_frames_discarded_total",
			Help: "Total number of unterminated frame tails discarded by the splitter",
		},
	)

	// DecodeSeconds measures time spent decoding one frame
	DecodeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lowpansniff_decode_seconds",
			Help:    "Time to decode a single frame in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 16), // 1µs to ~33ms
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
