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

package trade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type tradeMetrics struct {
	ordersListed prometheus.Counter
	orderFills   prometheus.Counter
	kWhTraded    *prometheus.CounterVec
	ammSwaps     *prometheus.CounterVec
	reserveEnTo  prometheus.Gauge
	reserveKWh   prometheus.Gauge
	activeOrders prometheus.Gauge
}

func (m *tradeMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.ordersListed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_trade_orders_listed_total",
		Help: "surplus orders listed",
	})
	m.orderFills = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_trade_order_fills_total",
		Help: "order book fills",
	})
	m.kWhTraded = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_trade_kwh_traded_total",
			Help: "kWh traded, by venue",
		},
		[]string{"venue"},
	)
	m.ammSwaps = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_trade_amm_swaps_total",
			Help: "AMM swaps, by direction",
		},
		[]string{"direction"},
	)
	m.reserveEnTo = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_trade_amm_reserve_ento",
		Help: "AMM EnTo reserve",
	})
	m.reserveKWh = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_trade_amm_reserve_kwh",
		Help: "AMM kWh reserve",
	})
	m.activeOrders = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_trade_active_orders",
		Help: "orders with kWh remaining",
	})
}
