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

package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type oracleMetrics struct {
	usageRecorded   prometheus.Counter
	kWhConsumed     prometheus.Counter
	savingsClaimed  prometheus.Counter
	kWhSaved        prometheus.Counter
	rejectedReports *prometheus.CounterVec
	meterSigners    prometheus.Gauge
}

func (m *oracleMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.usageRecorded = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_oracle_usage_reports_total",
		Help: "signed usage reports accepted",
	})
	m.kWhConsumed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_oracle_kwh_consumed_total",
		Help: "kWh consumption recorded from meter reports",
	})
	m.savingsClaimed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_oracle_savings_claims_total",
		Help: "months settled through savings claims",
	})
	m.kWhSaved = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "enledger_oracle_kwh_saved_total",
		Help: "kWh purchased but not consumed at settlement",
	})
	m.rejectedReports = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_oracle_rejected_reports_total",
			Help: "usage reports rejected, by error kind",
		},
		[]string{"kind"},
	)
	m.meterSigners = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_oracle_meter_signers",
		Help: "meter signers on the allow-list",
	})
}
