// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the egress engine's counters/gauges as Prometheus
// collectors, grounded on runZeroInc-sockstats/pkg/exporter/exporter.go
// (a prometheus.Collector wrapping per-connection kernel/protocol
// state). The egress engine's metrics are cheap scalar counters, so
// plain prometheus.Counter/Gauge values suffice; no custom Collect()
// loop over live connections is needed the way exporter.go needs one
// over live sockets.
type Metrics struct {
	DatagramsSent      prometheus.Counter
	BytesSent          prometheus.Counter
	AgainRetries       prometheus.Counter
	AntiAmplifyBlocked prometheus.Counter
	PMTUEstimate       prometheus.Gauge
	PMTUProbesSent     prometheus.Counter
	PMTUProbesLost     prometheus.Counter
}

// NewMetrics builds a Metrics set and registers it with reg. Passing a
// nil registry is valid and simply skips registration; noopMetrics uses
// that for a Config whose Metrics field is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "datagrams_sent_total",
			Help: "UDP datagrams successfully submitted to the kernel.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "bytes_sent_total",
			Help: "Bytes successfully submitted to the kernel.",
		}),
		AgainRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "again_retries_total",
			Help: "Datagram builds reverted due to EAGAIN/EWOULDBLOCK.",
		}),
		AntiAmplifyBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "anti_amplification_blocked_total",
			Help: "Times the plain packer stopped because the anti-amplification budget was exhausted.",
		}),
		PMTUEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quic_egress", Name: "pmtu_estimate_bytes",
			Help: "Current learned path MTU per the PMTU prober.",
		}),
		PMTUProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "pmtu_probes_sent_total",
			Help: "PMTU probe packets sent.",
		}),
		PMTUProbesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic_egress", Name: "pmtu_probes_lost_total",
			Help: "PMTU probe packets declared lost.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DatagramsSent, m.BytesSent, m.AgainRetries,
			m.AntiAmplifyBlocked, m.PMTUEstimate, m.PMTUProbesSent, m.PMTUProbesLost)
	}
	return m
}

// noopMetrics is used when Config.Metrics is nil, so conn.go never has
// to nil-check before incrementing a counter.
func noopMetrics() *Metrics {
	return NewMetrics(nil)
}
