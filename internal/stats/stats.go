// Package stats exposes runtime counters for the chat engine backed by
// prometheus. Gauges are registered by name at startup and bumped
// through the StatsProvider interface so tests can swap in a mock.
package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatka"

type StatsProvider interface {
	RegisterMetric(name string)
	Incr(name string)
	Decr(name string)
}

type PromStats struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
}

// NewPromStats creates the stats registry and mounts the metrics
// endpoint on mux.
func NewPromStats(mux *http.ServeMux) *PromStats {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ps := &PromStats{
		registry: registry,
		gauges:   make(map[string]prometheus.Gauge),
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return ps
}

func (ps *PromStats) RegisterMetric(name string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	ps.registry.MustRegister(g)
	ps.gauges[name] = g
}

func (ps *PromStats) Incr(name string) {
	ps.gauge(name).Inc()
}

func (ps *PromStats) Decr(name string) {
	ps.gauge(name).Dec()
}

func (ps *PromStats) gauge(name string) prometheus.Gauge {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	g, ok := ps.gauges[name]
	if !ok {
		panic("metric not registered: " + name)
	}

	return g
}
