// Package metrics defines all Prometheus metrics for finiky.
// All metrics use the "finiky_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "finiky"

// --- DHCP Metrics ---

var (
	// DHCPPacketsReceived counts DHCP packets received by message type.
	DHCPPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packets_received_total",
		Help:      "Total DHCP packets received, by message type.",
	}, []string{"msg_type"})

	// DHCPPacketsSent counts DHCP packets sent by message type.
	DHCPPacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packets_sent_total",
		Help:      "Total DHCP packets sent, by message type.",
	}, []string{"msg_type"})

	// DHCPPacketErrors counts packet processing errors.
	DHCPPacketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_packet_errors_total",
		Help:      "Total DHCP packet processing errors, by type.",
	}, []string{"type"})

	// DHCPProcessingDuration tracks DHCP packet handling latency.
	DHCPProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dhcp_packet_processing_duration_seconds",
		Help:      "DHCP packet processing duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"msg_type"})

	// LeasesActive is a gauge of currently active leases.
	LeasesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leases_active",
		Help:      "Number of currently active leases.",
	})

	// PoolExhausted counts DISCOVERs dropped because the address pool was full.
	PoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_pool_exhausted_total",
		Help:      "Total DHCPDISCOVER packets dropped due to pool exhaustion.",
	})

	// BootFileSelections counts boot file selections by chosen file name.
	BootFileSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_bootfile_selections_total",
		Help:      "Total boot file selections, by selected file name (empty for none).",
	}, []string{"bootfile"})
)

// --- TFTP Metrics ---

var (
	// TFTPTransfersStarted counts accepted RRQs.
	TFTPTransfersStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_started_total",
		Help:      "Total TFTP transfers started.",
	})

	// TFTPTransfersCompleted counts transfers that reached the final block.
	TFTPTransfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_completed_total",
		Help:      "Total TFTP transfers completed successfully.",
	})

	// TFTPTransfersFailed counts transfers aborted by error or retry exhaustion.
	TFTPTransfersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_transfers_failed_total",
		Help:      "Total TFTP transfers that failed, by reason.",
	}, []string{"reason"})

	// TFTPRetransmits counts DATA block retransmissions.
	TFTPRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_retransmits_total",
		Help:      "Total TFTP DATA block retransmissions.",
	})

	// TFTPBlocksSent counts DATA blocks sent.
	TFTPBlocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tftp_blocks_sent_total",
		Help:      "Total TFTP DATA blocks sent.",
	})

	// TFTPActiveTransfers is a gauge of in-flight transfers.
	TFTPActiveTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tftp_active_transfers",
		Help:      "Number of in-flight TFTP transfers.",
	})
)

// --- HTTP Metrics ---

var (
	// HTTPRequests counts HTTP requests by method and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests, by method and status.",
	}, []string{"method", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// HTTPBytesServed counts response body bytes written.
	HTTPBytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_bytes_served_total",
		Help:      "Total response body bytes served over HTTP.",
	})
)

// --- Server Info ---

var (
	// ServerInfo is a constant gauge with server build metadata.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Server build and version info.",
	}, []string{"version"})

	// ServerStartTime tracks server start time as a unix timestamp.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Server start time as Unix timestamp.",
	})
)
