// Package metrics records sender activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records sender events.
type Recorder interface {
	DatagramSent(retransmission bool)
	AckReceived(advanced bool)
	CorruptDropped()
	Timeout()
	InFlight(n int)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (dummy) DatagramSent(bool) {}
func (dummy) AckReceived(bool)  {}
func (dummy) CorruptDropped()   {}
func (dummy) Timeout()          {}
func (dummy) InFlight(int)      {}

type prom struct {
	sent     prometheus.Counter
	resent   prometheus.Counter
	acks     *prometheus.CounterVec
	corrupt  prometheus.Counter
	timeouts prometheus.Counter
	inFlight prometheus.Gauge
}

// NewPrometheus constructs a new Prometheus metrics recorder whose collectors
// are registered with reg. A nil reg registers with the default registry.
func NewPrometheus(service string, reg prometheus.Registerer) Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &prom{
		sent: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_datagrams_sent_total",
			Help: "The total number of data datagrams transmitted for the first time",
		}),
		resent: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_datagrams_retransmitted_total",
			Help: "The total number of data datagrams retransmitted after a timeout",
		}),
		acks: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_acks_total",
			Help: "The total number of valid acknowledgements, by whether they advanced the window",
		}, []string{"advanced"}),
		corrupt: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_corrupt_dropped_total",
			Help: "The total number of inbound datagrams dropped on checksum mismatch",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_timeouts_total",
			Help: "The total number of retransmission timer expiries",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_in_flight",
			Help: "The number of unacknowledged datagrams",
		}),
	}
}

func (m *prom) DatagramSent(retransmission bool) {
	if retransmission {
		m.resent.Inc()
		return
	}
	m.sent.Inc()
}

func (m *prom) AckReceived(advanced bool) {
	if advanced {
		m.acks.WithLabelValues("true").Inc()
		return
	}
	m.acks.WithLabelValues("false").Inc()
}

func (m *prom) CorruptDropped() { m.corrupt.Inc() }
func (m *prom) Timeout()        { m.timeouts.Inc() }
func (m *prom) InFlight(n int)  { m.inFlight.Set(float64(n)) }
