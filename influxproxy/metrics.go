// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package influxproxy

import "github.com/prometheus/client_golang/prometheus"

// Forward outcomes used as the "outcome" label of the forwards counter.
const (
	OutcomeSuccess        = "success"
	OutcomeRejected       = "rejected"
	OutcomeTransportError = "transport_error"
	OutcomeSkipped        = "skipped"
)

const metricsNamespace = "collectd_proxy"

// Metrics holds the prometheus collectors updated by the client.
type Metrics struct {
	batchesReceived prometheus.Counter
	batchesRejected prometheus.Counter
	linesTranslated prometheus.Counter
	forwards        *prometheus.CounterVec
	forwardsActive  prometheus.Gauge
}

// NewMetrics creates the client collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_received_total",
			Help:      "Number of inbound requests whose body was read.",
		}),
		batchesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_rejected_total",
			Help:      "Number of inbound requests rejected as malformed.",
		}),
		linesTranslated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_translated_total",
			Help:      "Number of line protocol lines produced.",
		}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forwards_total",
			Help:      "Number of forwards to InfluxDB by outcome.",
		}, []string{"outcome"}),
		forwardsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "forwards_in_flight",
			Help:      "Number of forwards to InfluxDB currently in progress.",
		}),
	}

	for _, outcome := range []string{OutcomeSuccess, OutcomeRejected, OutcomeTransportError, OutcomeSkipped} {
		m.forwards.WithLabelValues(outcome)
	}

	reg.MustRegister(m.batchesReceived, m.batchesRejected, m.linesTranslated, m.forwards, m.forwardsActive)
	return m
}
