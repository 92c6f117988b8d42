// Package metrics экспортирует метрики запусков в формате Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "explorer"

// Collector набор метрик. Методы безопасны для nil-получателя, поэтому
// компоненты работают и без метрик.
type Collector struct {
	registry *prometheus.Registry

	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	issues       *prometheus.CounterVec
	blockers     *prometheus.CounterVec
	patterns     *prometheus.CounterVec
	vision       *prometheus.CounterVec
	visionTime   prometheus.Histogram
	httpRequests *prometheus.CounterVec
}

// New регистрирует метрики в собственном реестре.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_started_total", Help: "Запущенные исследования",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_finished_total", Help: "Завершённые исследования по статусу",
		}, []string{"status"}),
		runsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "runs_active", Help: "Активные исследования",
		}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "steps_total", Help: "Шаги по типу действия и статусу",
		}, []string{"action", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "step_duration_seconds", Help: "Длительность шага",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "issues_total", Help: "Найденные проблемы",
		}, []string{"category", "severity", "source"}),
		blockers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "blockers_total", Help: "Распознанные блокеры",
		}, []string{"kind", "dismissed"}),
		patterns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "guard_patterns_total", Help: "Паттерны зацикливания",
		}, []string{"kind"}),
		vision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vision_calls_total", Help: "Обращения к vision-модели",
		}, []string{"trigger", "outcome"}),
		visionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vision_latency_seconds", Help: "Задержка vision-модели",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Запросы к API",
		}, []string{"method", "path", "status"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler отдаёт метрики для /metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.runsStarted.Inc()
	c.runsActive.Inc()
}

func (c *Collector) RunFinished(status string) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(status).Inc()
	c.runsActive.Dec()
}

func (c *Collector) Step(action, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(action, status).Inc()
	c.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (c *Collector) Issue(category, severity, source string) {
	if c == nil {
		return
	}
	c.issues.WithLabelValues(category, severity, source).Inc()
}

func (c *Collector) Blocker(kind string, dismissed bool) {
	if c == nil {
		return
	}
	d := "false"
	if dismissed {
		d = "true"
	}
	c.blockers.WithLabelValues(kind, d).Inc()
}

func (c *Collector) Pattern(kind string) {
	if c == nil {
		return
	}
	c.patterns.WithLabelValues(kind).Inc()
}

func (c *Collector) Vision(trigger, outcome string, latency time.Duration) {
	if c == nil {
		return
	}
	c.vision.WithLabelValues(trigger, outcome).Inc()
	c.visionTime.Observe(latency.Seconds())
}

func (c *Collector) HTTPRequest(method, path, status string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, status).Inc()
}
