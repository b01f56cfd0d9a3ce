// Package metrics 以 Prometheus 格式暴露 HTTP 与智能体派发指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

const namespace = "sentinel"

// Metrics 持有独立的注册表，测试中可以并存多个实例。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchInFlight *prometheus.GaugeVec
}

// New 创建并注册全部指标，同时注册 Go 运行时与进程指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tasks_total",
			Help:      "Agent tasks finished, by variant, outcome and error code.",
		}, []string{"agent", "outcome", "code"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "task_duration_seconds",
			Help:      "Agent task duration from creation to completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		dispatchInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tasks_in_flight",
			Help:      "Agent tasks currently running.",
		}, []string{"agent"}),
	}
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 以 Prometheus 文本格式输出指标。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// OnTaskEvent 实现 agent.Observer。
func (m *Metrics) OnTaskEvent(_ context.Context, event agent.Event) {
	variant := string(event.Task.AgentID)
	switch event.Type {
	case agent.EventStarted:
		m.dispatchInFlight.WithLabelValues(variant).Inc()
	case agent.EventCompleted:
		m.dispatchInFlight.WithLabelValues(variant).Dec()
		m.dispatchTotal.WithLabelValues(variant, "completed", "").Inc()
		m.dispatchDuration.WithLabelValues(variant).Observe(event.Duration.Seconds())
	case agent.EventFailed:
		m.dispatchInFlight.WithLabelValues(variant).Dec()
		code := xerrors.CodeOf(unwrapExecution(event.Err))
		m.dispatchTotal.WithLabelValues(variant, "failed", string(code)).Inc()
		m.dispatchDuration.WithLabelValues(variant).Observe(event.Duration.Seconds())
	}
}

// GaugeFunc 注册一个按需计算的指标，例如队列长度或在线连接数。
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func unwrapExecution(err error) error {
	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		return execErr.Cause
	}
	return err
}

var _ agent.Observer = (*Metrics)(nil)
