/*
 * Minio Cloud Storage, (C) 2016 Minio, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exports Prometheus counters and gauges for the block
// store, health monitor, and coordinator, scraped at /metrics on both the
// coordinator and node processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlockStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidfive_blockstore_ops_total",
			Help: "Total block store operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	BlockStoreUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raidfive_blockstore_used_bytes",
			Help: "Bytes currently used on this node's block store",
		},
	)

	NodeProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raidfive_node_probe_duration_seconds",
			Help:    "Health probe round-trip latency by node id",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	NodeStatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidfive_node_status_transitions_total",
			Help: "Total Online<->Offline transitions observed by node",
		},
		[]string{"node", "transition"},
	)

	ClusterStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raidfive_cluster_status",
			Help: "Derived cluster status: 0=Critical, 1=Degraded, 2=Operational",
		},
	)

	CoordinatorOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raidfive_coordinator_ops_total",
			Help: "Total coordinator-level file operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	CoordinatorOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raidfive_coordinator_op_duration_seconds",
			Help:    "Coordinator file operation duration by op",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StripeRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raidfive_stripe_recoveries_total",
			Help: "Total stripes reconstructed from parity on the read path",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BlockStoreOpsTotal,
		BlockStoreUsedBytes,
		NodeProbeDuration,
		NodeStatusTransitionsTotal,
		ClusterStatus,
		CoordinatorOpsTotal,
		CoordinatorOpDuration,
		StripeRecoveriesTotal,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording it to a
// histogram at the end, mirroring the pattern used across the example pack.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer { return Timer{start: time.Now()} }

// ObserveVec records the elapsed duration against a labeled histogram.
func (t Timer) ObserveVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
