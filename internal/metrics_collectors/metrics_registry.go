package metrics_collectors

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// MetricsRegistry holds the metric collectors and remembers the order in
// which they were registered, which is the order they are collected in.
type MetricsRegistry struct {
	collectors cmap.ConcurrentMap[string, MetricCollector]
	mu         sync.RWMutex
	order      []string
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: cmap.New[MetricCollector](),
	}
}

// Register adds a collector. Registering a name again replaces the collector
// and keeps its position.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	name := collector.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.collectors.Has(name) {
		r.order = append(r.order, name)
	}
	r.collectors.Set(name, collector)
}

// Get returns the collector registered under name.
func (r *MetricsRegistry) Get(name string) (MetricCollector, bool) {
	return r.collectors.Get(name)
}

// Ordered returns the collectors in registration order.
func (r *MetricsRegistry) Ordered() []MetricCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricCollector, 0, len(r.order))
	for _, name := range r.order {
		if c, ok := r.collectors.Get(name); ok {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the registered metric names in order.
func (r *MetricsRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
