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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	totalSupply prometheus.Gauge
	transfers   *prometheus.CounterVec
	holders     prometheus.Gauge
}

func (m *ledgerMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.totalSupply = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_ledger_total_supply",
		Help: "total EnTo supply in whole tokens",
	})
	m.transfers = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_ledger_transfers_total",
			Help: "committed balance movements, by kind",
		},
		[]string{"kind"},
	)
	m.holders = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_ledger_holders",
		Help: "accounts with a non-zero balance",
	})
}
