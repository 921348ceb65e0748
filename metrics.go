/*
Copyright 2026 The cloudrx Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloudrx

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the prometheus collectors every provider and subject
// feed. It is safe to use before registration (newMetrics builds every
// collector, and unregistered vectors still count, just without being
// exported), and Register is a no-op if reg is nil, so callers never have
// to stand up a metrics server to use the package.
type metrics struct {
	bootstrapAttempts  *prometheus.CounterVec
	bootstrapFailures  *prometheus.CounterVec
	publishLatency     *prometheus.HistogramVec
	cdcRecordsIngested *prometheus.CounterVec
	shardsEmitted      *prometheus.CounterVec
	breakerTrips       *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		bootstrapAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrx", Name: "bootstrap_attempts_total",
			Help: "Total provider bootstrap attempts, by stream id.",
		}, []string{"stream_id"}),
		bootstrapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrx", Name: "bootstrap_failures_total",
			Help: "Total provider bootstrap failures, by stream id and classification.",
		}, []string{"stream_id", "class"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cloudrx", Name: "publish_latency_seconds",
			Help:    "Publish pipeline latency, by stream id and consistency level.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream_id", "consistency"}),
		cdcRecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrx", Name: "cdc_records_ingested_total",
			Help: "Total CDC records ingested, by stream id and shard id.",
		}, []string{"stream_id", "shard_id"}),
		shardsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrx", Name: "shards_emitted_total",
			Help: "Total distinct shards emitted by the shard multiplexer, by stream id.",
		}, []string{"stream_id"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrx", Name: "circuit_breaker_trips_total",
			Help: "Total circuit breaker state transitions to open, by stream id.",
		}, []string{"stream_id"}),
	}
}

// Register adds every collector to reg. A nil reg is a no-op so metrics
// stay optional.
func (m *metrics) Register(reg prometheus.Registerer) {
	if reg == nil || m == nil {
		return
	}
	reg.MustRegister(
		m.bootstrapAttempts, m.bootstrapFailures, m.publishLatency,
		m.cdcRecordsIngested, m.shardsEmitted, m.breakerTrips,
	)
}
