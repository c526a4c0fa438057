// Package metrics exports the control loop as Prometheus gauges and counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sparky-ng/internal/attitude"
	"sparky-ng/internal/razor"
)

const namespace = "sparky"

type Metrics struct {
	enabled    prometheus.Gauge
	desired    *prometheus.GaugeVec
	actual     *prometheus.GaugeVec
	errorTerm  *prometheus.GaugeVec
	integral   *prometheus.GaugeVec
	derivative *prometheus.GaugeVec
	actuation  *prometheus.GaugeVec
	decodes    *prometheus.CounterVec
	sent       prometheus.Counter

	gatherer prometheus.Gatherer
}

func axisGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "axis",
		Name:      name,
		Help:      help,
	}, []string{"axis"})
}

// New registers the collectors on reg. A nil reg gets a private registry,
// which keeps tests and repeated construction independent.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_enabled",
			Help:      "1 while attitude control is enabled.",
		}),
		desired:    axisGauge("desired_hundredths", "Desired angle in hundredths of a degree."),
		actual:     axisGauge("actual_hundredths", "Measured angle in hundredths of a degree."),
		errorTerm:  axisGauge("error_hundredths", "Latest proportional error."),
		integral:   axisGauge("integral", "Accumulated integral term."),
		derivative: axisGauge("derivative", "Regression slope of the error history."),
		actuation:  axisGauge("actuation", "Signed actuation value."),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "razor",
			Name:      "windows_total",
			Help:      "Decoder windows by result.",
		}, []string{"result"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "packets_sent_total",
			Help:      "Telemetry datagrams sent.",
		}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{
		m.enabled, m.desired, m.actual, m.errorTerm, m.integral,
		m.derivative, m.actuation, m.decodes, m.sent,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe copies one controller snapshot into the gauges.
func (m *Metrics) Observe(s attitude.Snapshot) {
	if s.Enabled {
		m.enabled.Set(1)
	} else {
		m.enabled.Set(0)
	}
	for _, a := range attitude.Axes {
		ax := s.Axis(a)
		l := prometheus.Labels{"axis": a.String()}
		m.desired.With(l).Set(float64(ax.Desired))
		m.actual.With(l).Set(float64(ax.Actual))
		m.errorTerm.With(l).Set(float64(ax.Error))
		m.integral.With(l).Set(float64(ax.Integral))
		m.derivative.With(l).Set(float64(ax.Derivative))
		m.actuation.With(l).Set(float64(ax.Actuation))
	}
}

// ObserveDecode counts one decoder pass. NoData passes are ignored; read
// failures count as "error".
func (m *Metrics) ObserveDecode(res razor.Result, err error) {
	switch {
	case err != nil:
		m.decodes.With(prometheus.Labels{"result": "error"}).Inc()
	case res != razor.NoData:
		m.decodes.With(prometheus.Labels{"result": res.String()}).Inc()
	}
}

func (m *Metrics) ObserveSent() { m.sent.Inc() }

// Handler serves the registry this Metrics was registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
