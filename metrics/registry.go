// Package metrics exposes the counter/gauge/histogram surface used by the
// transport runtime, backed by Prometheus. Metrics are addressed by a group
// (subsystem) and a name; dimensioned variants add labels per call site.
package metrics

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const _namespace = "nagare"

type groupRegistry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _registry = newGroupRegistry()

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler returns an http.Handler serving the exposition endpoint for all
// metrics recorded through this package.
func Handler() http.Handler {
	return promhttp.HandlerFor(_registry.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry for embedders that
// mount it into their own exposition pipeline.
func Registry() *prometheus.Registry {
	return _registry.reg
}

// labelKey builds a cache key that distinguishes vectors by label-name set,
// since Prometheus fixes label names at vector creation.
func labelKey(group, name string, labels []string) string {
	return group + "/" + name + "/" + strings.Join(labels, ",")
}

func sortedLabels(dims Dimension) ([]string, []string) {
	if len(dims) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = dims[k]
	}
	return names, values
}

func (r *groupRegistry) counter(group, name string, labels []string) *prometheus.CounterVec {
	key := labelKey(group, name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[key]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: _namespace,
		Subsystem: group,
		Name:      name,
	}, labels)
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			c = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	r.counters[key] = c
	return c
}

func (r *groupRegistry) gauge(group, name string, labels []string) *prometheus.GaugeVec {
	key := labelKey(group, name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: _namespace,
		Subsystem: group,
		Name:      name,
	}, labels)
	if err := r.reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			g = are.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	r.gauges[key] = g
	return g
}

func (r *groupRegistry) histogram(group, name string, labels []string) *prometheus.HistogramVec {
	key := labelKey(group, name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: _namespace,
		Subsystem: group,
		Name:      name,
		Buckets:   prometheus.DefBuckets,
	}, labels)
	if err := r.reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			h = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	r.histograms[key] = h
	return h
}

// IncrCounterWithGroup adds v to the named counter in the given group.
func IncrCounterWithGroup(group, name string, v Value) {
	_registry.counter(group, name, nil).WithLabelValues().Add(float64(v))
}

// IncrCounterWithDimGroup adds v to the named counter with label dimensions.
func IncrCounterWithDimGroup(group, name string, v Value, dims Dimension) {
	names, values := sortedLabels(dims)
	_registry.counter(group, name, names).WithLabelValues(values...).Add(float64(v))
}

// UpdateGaugeWithGroup sets the named gauge in the given group.
func UpdateGaugeWithGroup(group, name string, v Value) {
	_registry.gauge(group, name, nil).WithLabelValues().Set(float64(v))
}

// UpdateGaugeWithDimGroup sets the named gauge with label dimensions.
func UpdateGaugeWithDimGroup(group, name string, v Value, dims Dimension) {
	names, values := sortedLabels(dims)
	_registry.gauge(group, name, names).WithLabelValues(values...).Set(float64(v))
}

// ObserveHistogramWithGroup records an observation on the named histogram.
func ObserveHistogramWithGroup(group, name string, v Value) {
	_registry.histogram(group, name, nil).WithLabelValues().Observe(float64(v))
}

// Gather collects current counter and gauge values keyed by full metric
// name, mainly for tests and debug endpoints.
func Gather() (map[string]float64, error) {
	families, err := _registry.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[fam.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[fam.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
