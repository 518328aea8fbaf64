package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

const namespace = "careclock"

// Request outcomes recorded for the care API
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	doses       *prometheus.GaugeVec
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
	alertsSent  *prometheus.CounterVec
	lastCheck   prometheus.Gauge
	wsClients   prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a metrics set on its own registry, with Go and process collectors attached
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		doses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "doses",
			Help:      "Doses in the last fetched list by date group and badge severity.",
		}, []string{"group", "severity"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Care API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_seconds",
			Help:      "Care API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Dose alerts delivered by kind and channel.",
		}, []string{"kind", "channel"}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the last reminder check.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard websocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.doses,
		m.apiRequests,
		m.apiDuration,
		m.alertsSent,
		m.lastCheck,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAPIRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, outcome).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) RecordAlert(kind, channel string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(kind, channel).Inc()
}

// SetDoseCounts replaces the dose gauge with the counts of one classified list
func (m *Metrics) SetDoseCounts(groups []dose.GroupView) {
	if m == nil {
		return
	}
	m.doses.Reset()
	for _, g := range groups {
		for _, v := range g.Doses {
			m.doses.WithLabelValues(string(g.Label), v.Severity.String()).Inc()
		}
	}
}

func (m *Metrics) MarkCheck(at time.Time) {
	if m == nil {
		return
	}
	m.lastCheck.Set(float64(at.Unix()))
}

func (m *Metrics) IncrementWebsocketClients() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) DecrementWebsocketClients() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

type Snapshot struct {
	Uptime         time.Duration    `json:"uptime"`
	RequestsTotal  int64            `json:"requests_total"`
	RequestsFailed int64            `json:"requests_failed"`
	AlertsSent     map[string]int64 `json:"alerts_sent"`
	Doses          map[string]int64 `json:"doses"`
	SuccessRate    float64          `json:"success_rate"`
}

// Snapshot folds the current registry values into a summary for the status command
func (m *Metrics) Snapshot() (*Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Uptime:     time.Since(m.startTime),
		AlertsSent: make(map[string]int64),
		Doses:      make(map[string]int64),
	}

	for _, mf := range families {
		switch mf.GetName() {
		case namespace + "_api_requests_total":
			for _, metric := range mf.GetMetric() {
				n := int64(metric.GetCounter().GetValue())
				s.RequestsTotal += n
				if label(metric.GetLabel(), "outcome") != OutcomeOK {
					s.RequestsFailed += n
				}
			}
		case namespace + "_alerts_sent_total":
			for _, metric := range mf.GetMetric() {
				s.AlertsSent[label(metric.GetLabel(), "kind")] += int64(metric.GetCounter().GetValue())
			}
		case namespace + "_doses":
			for _, metric := range mf.GetMetric() {
				s.Doses[label(metric.GetLabel(), "severity")] += int64(metric.GetGauge().GetValue())
			}
		}
	}

	if s.RequestsTotal > 0 {
		s.SuccessRate = float64(s.RequestsTotal-s.RequestsFailed) / float64(s.RequestsTotal) * 100
	}
	return s, nil
}

type labelPair interface {
	GetName() string
	GetValue() string
}

func label[T labelPair](pairs []T, name string) string {
	for _, p := range pairs {
		if p.GetName() == name {
			return p.GetValue()
		}
	}
	return ""
}

func ObserveAPIRequest(endpoint, outcome string, d time.Duration) {
	Default().ObserveAPIRequest(endpoint, outcome, d)
}

func RecordAlert(kind, channel string) {
	Default().RecordAlert(kind, channel)
}

func SetDoseCounts(groups []dose.GroupView) {
	Default().SetDoseCounts(groups)
}
