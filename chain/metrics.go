// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type executorMetrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	height      prometheus.Gauge
	queueDepth  prometheus.Gauge
}

func (e *Executor) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	e.metrics = &executorMetrics{
		transitions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enledger_chain_transitions_total",
				Help: "state transitions processed, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		duration: promautoFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enledger_chain_transition_duration_seconds",
				Help:    "time spent applying a state transition",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"op"},
		),
		height: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "enledger_chain_block_height",
				Help: "current block height",
			},
		),
		queueDepth: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "enledger_chain_queue_depth",
				Help: "transitions waiting for the executor",
			},
		),
	}
}
