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

package loan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type loanMetrics struct {
	activeLoans  prometheus.Gauge
	principal    prometheus.Gauge
	collateral   prometheus.Gauge
	repayments   prometheus.Counter
	liquidations *prometheus.CounterVec
}

func (m *loanMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.activeLoans = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_loan_active",
		Help: "active loans",
	})
	m.principal = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_loan_outstanding_principal",
		Help: "outstanding principal in EnTo",
	})
	m.collateral = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_loan_escrowed_collateral",
		Help: "escrowed collateral in EnTo",
	})
	m.repayments = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_loan_repayments_total",
		Help: "repayments applied",
	})
	m.liquidations = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_loan_liquidations_total",
			Help: "liquidations, by trigger",
		},
		[]string{"trigger"},
	)
}
