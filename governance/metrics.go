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

package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type governanceMetrics struct {
	totalStaked prometheus.Gauge
	stakers     prometheus.Gauge
	proposals   *prometheus.CounterVec
	votes       *prometheus.CounterVec
}

func (m *governanceMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.totalStaked = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_governance_total_staked",
		Help: "EnTo staked for voting",
	})
	m.stakers = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "enledger_governance_stakers",
		Help: "accounts with a stake",
	})
	m.proposals = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_governance_proposals_total",
			Help: "proposal lifecycle transitions, by stage",
		},
		[]string{"stage"},
	)
	m.votes = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enledger_governance_votes_total",
			Help: "votes cast, by support",
		},
		[]string{"support"},
	)
}
