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

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gatewayMetrics struct {
	requests   *prometheus.CounterVec
	fiatVolume *prometheus.CounterVec
	enToVolume *prometheus.CounterVec
	escrow     prometheus.Gauge
	marketRate prometheus.Gauge
}

func (m *gatewayMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.requests = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_gateway_requests_total",
			Help: "fiat gateway requests, by side and outcome",
		},
		[]string{"side", "outcome"},
	)
	m.fiatVolume = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_gateway_fiat_settled_total",
			Help: "fiat settled, by side",
		},
		[]string{"side"},
	)
	m.enToVolume = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_gateway_ento_settled_total",
			Help: "EnTo settled, by side",
		},
		[]string{"side"},
	)
	m.escrow = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_gateway_sell_escrow_ento",
		Help: "EnTo held for pending sells",
	})
	m.marketRate = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_gateway_market_rate",
		Help: "EnTo per fiat unit",
	})
}
