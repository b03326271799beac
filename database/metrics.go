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

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type databaseMetrics struct {
	receipts      prometheus.Counter
	events        prometheus.Counter
	lastBlock     prometheus.Gauge
	storeDuration prometheus.Histogram
}

func (m *databaseMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.receipts = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_database_receipts_stored_total",
		Help: "receipts written to the journal",
	})
	m.events = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_database_events_projected_total",
		Help: "events written to the projections",
	})
	m.lastBlock = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_database_last_block",
		Help: "last journaled block",
	})
	m.storeDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "enledger_database_store_duration_seconds",
		Help:    "time to journal and project a receipt",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
}
