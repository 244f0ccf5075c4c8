package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Watcher and fullnode gauges, exposed on /metrics for the gateway's
// monitoring stack.

var (
	// Fullnode
	FullnodeStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "fullnode",
		Name:      "status",
		Help:      "Fullnode reachability (1=up, 0=down)",
	})

	FullnodeLastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "fullnode",
		Name:      "last_block",
		Help:      "Latest finalized slot reported by the fullnode",
	})

	FullnodeLastBlockTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "fullnode",
		Name:      "last_block_timestamp_seconds",
		Help:      "Block time of the latest finalized slot, unix seconds",
	})

	// Watcher
	WalletLastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "watcher",
		Name:      "last_block",
		Help:      "Last slot fully scanned and checkpointed by the watcher",
	})

	WalletLastBlockTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "watcher",
		Name:      "last_block_timestamp_seconds",
		Help:      "Block time of the last checkpointed slot, unix seconds",
	})

	WatcherScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "watcher",
		Name:      "scan_errors_total",
		Help:      "Total block scan failures (before checkpoint retry)",
	})

	DepositsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "watcher",
		Name:      "deposits_detected_total",
		Help:      "Total deposits detected per symbol",
	}, []string{"symbol"})
)
