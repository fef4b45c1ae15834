package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marshal"

const (
	RESULT_OK      = "ok"
	RESULT_FAILED  = "failed"
	RESULT_SKIPPED = "skipped"
)

type Metrics struct {
	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	sends         *prometheus.CounterVec
	onDemand      prometheus.Counter
	deviceIO      *prometheus.HistogramVec
	sanity        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles run, by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Payloads dispatched to collectors, by protocol and result.",
		}, []string{"protocol", "result"}),
		onDemand: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "on_demand_sends_total",
			Help:      "Follow-up payloads sent because a collector asked for extra variables.",
		}),
		deviceIO: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_io_seconds",
			Help:      "Latency of device transport calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"fn"}),
		sanity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_sane",
			Help:      "1 when the last measured payload passed every threshold, 0 when unsane, -1 when unmeasured.",
		}),
	}
	m.registry.MustRegister(m.cycles, m.cycleDuration, m.sends, m.onDemand, m.deviceIO, m.sanity,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCycle(duration time.Duration, err error) {
	result := RESULT_OK
	if err != nil {
		result = RESULT_FAILED
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveSend(protocol string, result string) {
	m.sends.WithLabelValues(protocol, result).Inc()
}

func (m *Metrics) ObserveOnDemand() {
	m.onDemand.Inc()
}

func (m *Metrics) SetSanity(sanity energy_device.Sanity) {
	switch sanity {
	case energy_device.Sane:
		m.sanity.Set(1)
	case energy_device.Unsane:
		m.sanity.Set(0)
	default:
		m.sanity.Set(-1)
	}
}

// ModbusInstrument feeds device transport timings into the device_io histogram.
func (m *Metrics) ModbusInstrument() energy_device.ModbusInstrument {
	return energy_device.ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.deviceIO.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}
