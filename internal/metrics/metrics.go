// Package metrics counts gateway traffic for the admin stats endpoint and
// exposes the same counters to Prometheus.
package metrics

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embedgate"

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests   int64            `json:"total_requests"`
	TotalEmbeddings int64            `json:"total_embeddings"`
	CacheHits       int64            `json:"cache_hits"`
	CacheMisses     int64            `json:"cache_misses"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	ProviderUsage   map[string]int64 `json:"provider_usage"`
	Fallbacks       int64            `json:"fallbacks"`
	Errors          int64            `json:"errors"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
}

// Collector records gateway events. All methods are safe on a nil *Collector,
// which records nothing.
type Collector struct {
	registry *prometheus.Registry
	started  time.Time

	requests      *prometheus.CounterVec
	embeddings    prometheus.Counter
	cacheLookups  *prometheus.CounterVec
	providerUsage *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheUp       prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// New creates a collector with its own Prometheus registry, including Go
// runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Embedding requests handled, by operation.",
		}, []string{"operation"}),
		embeddings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embeddings returned to callers, cached or fresh.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit or miss).",
		}, []string{"result"}),
		providerUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "embeddings_total",
			Help:      "Embeddings computed by each provider.",
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Requests served by the alternate after the primary provider failed.",
		}, []string{"primary", "fallback"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed requests by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Embedding request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "shared_available",
			Help:      "1 when the shared cache store is serving, 0 when degraded to the local store.",
		}),
		snap: Snapshot{ProviderUsage: map[string]int64{}},
	}
	c.registry.MustRegister(
		c.requests, c.embeddings, c.cacheLookups, c.providerUsage,
		c.fallbacks, c.errors, c.duration, c.cacheUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one request for operation that returned n embeddings.
func (c *Collector) RecordRequest(operation string, n int, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(operation).Inc()
	c.embeddings.Add(float64(n))
	c.duration.WithLabelValues(operation).Observe(d.Seconds())

	c.mu.Lock()
	c.snap.TotalRequests++
	c.snap.TotalEmbeddings += int64(n)
	c.mu.Unlock()
}

// RecordCache counts hits and misses.
func (c *Collector) RecordCache(hits, misses int) {
	if c == nil || hits+misses == 0 {
		return
	}
	c.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	c.cacheLookups.WithLabelValues("miss").Add(float64(misses))

	c.mu.Lock()
	c.snap.CacheHits += int64(hits)
	c.snap.CacheMisses += int64(misses)
	c.mu.Unlock()
}

// RecordProvider counts n embeddings computed by provider.
func (c *Collector) RecordProvider(provider string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.providerUsage.WithLabelValues(provider).Add(float64(n))

	c.mu.Lock()
	c.snap.ProviderUsage[provider] += int64(n)
	c.mu.Unlock()
}

// RecordFallback counts a request served by fallback after primary failed.
func (c *Collector) RecordFallback(primary, fallback string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(primary, fallback).Inc()

	c.mu.Lock()
	c.snap.Fallbacks++
	c.mu.Unlock()
}

// RecordError counts a failed request of the given kind.
func (c *Collector) RecordError(kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(kind).Inc()

	c.mu.Lock()
	c.snap.Errors++
	c.mu.Unlock()
}

// SetCacheAvailable records whether the shared cache store is serving.
func (c *Collector) SetCacheAvailable(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.cacheUp.Set(1)
	} else {
		c.cacheUp.Set(0)
	}
}

// Snapshot returns a copy of the counters with derived hit rate and uptime.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{ProviderUsage: map[string]int64{}}
	}
	c.mu.Lock()
	s := c.snap
	s.ProviderUsage = maps.Clone(c.snap.ProviderUsage)
	c.mu.Unlock()

	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(total) * 100
	}
	s.UptimeSeconds = time.Since(c.started).Seconds()
	return s
}
