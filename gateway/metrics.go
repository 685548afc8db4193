package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts prepare and co-sign outcomes by machine code.
type Metrics struct {
	prepareTotal *prometheus.CounterVec
	cosignTotal  *prometheus.CounterVec
	wsEvents     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		prepareTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegate",
			Name:      "prepare_requests_total",
			Help:      "Prepare-transaction requests by action and outcome code.",
		}, []string{"action", "code"}),
		cosignTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegate",
			Name:      "cosign_requests_total",
			Help:      "Co-sign requests by outcome code.",
		}, []string{"code"}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegate",
			Name:      "ws_events_total",
			Help:      "Websocket events by type.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.prepareTotal, m.cosignTotal, m.wsEvents)
	}
	return m
}

func (m *Metrics) observePrepare(action, code string) {
	m.prepareTotal.WithLabelValues(action, code).Inc()
}

func (m *Metrics) observeCoSign(code string) {
	m.cosignTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) observeWSEvent(event string) {
	m.wsEvents.WithLabelValues(event).Inc()
}
