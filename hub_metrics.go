/*
   Copyright The Dashel Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package dashel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// prometheusRegisterer is the subset of prometheus.Registerer the Hub
// needs, kept narrow so WithMetrics does not force every caller to import
// the full prometheus API surface just to wire a Hub together.
type prometheusRegisterer interface {
	Register(prometheus.Collector) error
}

// hubMetrics holds the Hub's prometheus instrumentation (§11 domain
// stack): one gauge for live stream count and counters for the lifecycle
// events and bytes moved through data streams.
type hubMetrics struct {
	streamsActive      prometheus.Gauge
	acceptTotal        prometheus.Counter
	incomingDataTotal  prometheus.Counter
	connectionsClosed  *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	bytesRead          prometheus.Counter
	bytesWritten       prometheus.Counter
}

func newHubMetrics() *hubMetrics {
	return &hubMetrics{
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dashel",
			Name:      "streams_active",
			Help:      "Number of streams currently registered with the hub.",
		}),
		acceptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "accept_total",
			Help:      "Number of TCP connections accepted by tcpin listeners.",
		}),
		incomingDataTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "incoming_data_total",
			Help:      "Number of IncomingData callbacks dispatched.",
		}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "connection_closed_total",
			Help:      "Number of ConnectionClosed callbacks dispatched, by abnormality.",
		}, []string{"abnormal"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "errors_total",
			Help:      "Number of stream failures, by DashelError kind.",
		}, []string{"kind"}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the OS across all streams.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashel",
			Name:      "bytes_written_total",
			Help:      "Bytes written to the OS across all streams.",
		}),
	}
}

func (m *hubMetrics) register(reg prometheusRegisterer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		m.streamsActive, m.acceptTotal, m.incomingDataTotal,
		m.connectionsClosed, m.errorsTotal, m.bytesRead, m.bytesWritten,
	} {
		_ = reg.Register(c)
	}
}
