// Copyright 2024 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the counters/gauges exposed alongside the admission API.
type metrics struct {
	settlesAdmitted prometheus.Counter
	settlesRejected *prometheus.CounterVec
	channelsSeeded  prometheus.Counter
	channelsHeld    prometheus.GaugeFunc
}

func newMetrics(reg *prometheus.Registry, state StateManager) *metrics {
	m := &metrics{
		settlesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_settles_admitted_total",
			Help: "Vouchers accepted by Settle.",
		}),
		settlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequencer_settles_rejected_total",
			Help: "Vouchers rejected by Settle, labelled by error kind.",
		}, []string{"kind"}),
		channelsSeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_channels_seeded_total",
			Help: "Channels created via Seed.",
		}),
		channelsHeld: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sequencer_channels_held",
			Help: "Channels currently held in the in-memory state map.",
		}, func() float64 { return float64(state.Count()) }),
	}
	reg.MustRegister(m.settlesAdmitted, m.settlesRejected, m.channelsSeeded, m.channelsHeld)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}
