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

package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type archiveMetrics struct {
	batches  prometheus.Counter
	receipts prometheus.Counter
	bytes    prometheus.Counter
	failures prometheus.Counter
	cursor   prometheus.Gauge
}

func (m *archiveMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.batches = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_archive_batches_total",
		Help: "receipt batches uploaded",
	})
	m.receipts = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_archive_receipts_total",
		Help: "receipts uploaded",
	})
	m.bytes = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_archive_bytes_total",
		Help: "bytes uploaded",
	})
	m.failures = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_archive_failures_total",
		Help: "failed batch uploads",
	})
	m.cursor = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_archive_cursor_block",
		Help: "last archived block",
	})
}
