// Package metrics provides a small Prometheus-backed stats scope, the way
// boulder's metrics package wraps Prometheus so call sites never touch
// *prometheus.CounterVec directly.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a stats collector that prefixes the names of the stats it
// collects, and can be nested with NewScope.
type Scope interface {
	NewScope(scopes ...string) Scope

	Inc(stat string, value float64)
	Gauge(stat string, value float64)
	Observe(stat string, value float64)

	MustRegister(...prometheus.Collector)
}

type promScope struct {
	reg    prometheus.Registerer
	prefix string

	mu         *sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ Scope = &promScope{}

// NewPromScope returns a Scope that registers its metrics against reg.
func NewPromScope(reg prometheus.Registerer, scopes ...string) Scope {
	return &promScope{
		reg:        reg,
		prefix:     strings.Join(scopes, "_"),
		mu:         new(sync.Mutex),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (s *promScope) NewScope(scopes ...string) Scope {
	next := append([]string{s.prefix}, scopes...)
	return NewPromScope(s.reg, next...)
}

func (s *promScope) name(stat string) string {
	if s.prefix == "" {
		return "hds_" + stat
	}
	return "hds_" + s.prefix + "_" + stat
}

func (s *promScope) counter(stat string) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.name(stat)
	if c, ok := s.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, nil)
	s.reg.MustRegister(c)
	s.counters[name] = c
	return c
}

func (s *promScope) gauge(stat string) *prometheus.GaugeVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.name(stat)
	if g, ok := s.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, nil)
	s.reg.MustRegister(g)
	s.gauges[name] = g
	return g
}

func (s *promScope) histogram(stat string) *prometheus.HistogramVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.name(stat)
	if h, ok := s.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, nil)
	s.reg.MustRegister(h)
	s.histograms[name] = h
	return h
}

func (s *promScope) Inc(stat string, value float64) {
	s.counter(stat).WithLabelValues().Add(value)
}

func (s *promScope) Gauge(stat string, value float64) {
	s.gauge(stat).WithLabelValues().Set(value)
}

func (s *promScope) Observe(stat string, value float64) {
	s.histogram(stat).WithLabelValues().Observe(value)
}

func (s *promScope) MustRegister(cs ...prometheus.Collector) {
	s.reg.MustRegister(cs...)
}

type noopScope struct{}

// NewNoopScope returns a Scope that discards everything, for tests.
func NewNoopScope() Scope { return noopScope{} }

func (noopScope) NewScope(scopes ...string) Scope       { return noopScope{} }
func (noopScope) Inc(stat string, value float64)        {}
func (noopScope) Gauge(stat string, value float64)      {}
func (noopScope) Observe(stat string, value float64)    {}
func (noopScope) MustRegister(...prometheus.Collector)  {}

// Timer returns a function that, when called, observes the elapsed time
// since Timer was called under the given stat name in seconds.
func Timer(s Scope, stat string) func() {
	start := time.Now()
	return func() {
		s.Observe(stat+"_seconds", time.Since(start).Seconds())
	}
}
