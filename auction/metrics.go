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

package auction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type auctionMetrics struct {
	packsPurchased prometheus.Counter
	kWhSold        prometheus.Counter
	unitPrice      prometheus.Gauge
}

func (m *auctionMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.packsPurchased = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_auction_packs_purchased_total",
		Help: "energy packs purchased",
	})
	m.kWhSold = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_auction_kwh_sold_total",
		Help: "kWh sold through the auction",
	})
	m.unitPrice = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_auction_unit_price",
		Help: "current curve price in kWh per EnTo",
	})
}
