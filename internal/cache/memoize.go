package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/pkg/logger/sl"
)

// MaxTTL is the ceiling for cache entry lifetimes, 30 days.
const MaxTTL = 30 * 24 * time.Hour

// GenKey derives a deterministic, fixed-length cache key from the qualified
// operation name and the projected call arguments. The key is two xxh64
// digests over the halves of the full string, hex-joined, which keeps it
// content-based and safe for any backing store's key constraints.
func GenKey(name string, parts ...string) []byte {
	full := []byte(name + "|" + strings.Join(parts, "|"))

	first := xxhash.Sum64(full[:len(full)/2])
	second := xxhash.Sum64(full[len(full)/2:])

	return []byte(fmt.Sprintf("%016x%016x", first, second))
}

// Postprocess inspects a deserialized hit together with the current call's
// intent encoded in its closure. It may accept the value as-is, narrow it,
// or reject it (second return false), which forces a fresh fetch.
type Postprocess[V any] func(ctx context.Context, cached V) (V, bool)

// Options tunes one memoized operation.
type Options[V any] struct {
	// TTL is the entry lifetime. Ignored when TTLFunc is set.
	TTL time.Duration
	// TTLFunc derives the lifetime from the fetched value, e.g. a longer TTL
	// for a work item known to be closed.
	TTLFunc func(v V) time.Duration
	// RefreshOnAccess resets the TTL on every hit instead of only on write.
	RefreshOnAccess bool
	// Serialize/Deserialize convert values to cache payloads. Defaults to gob.
	Serialize   func(V) ([]byte, error)
	Deserialize func([]byte) (V, error)
	// Postprocess is the hit hook; nil accepts every hit.
	Postprocess Postprocess[V]
	// Required makes a nil client a configuration error instead of
	// pass-through.
	Required bool
	// Metrics is the optional hit/miss instrumentation sink.
	Metrics *Metrics
}

// Memoizer gives an asynchronous fetch at-most-one-executed-per-key caching
// semantics against the object cache. A nil client disables caching
// (pass-through) unless Options.Required is set.
type Memoizer[V any] struct {
	client Client
	log    *slog.Logger
	opts   Options[V]
}

// NewMemoizer validates the options and builds a Memoizer.
func NewMemoizer[V any](client Client, log *slog.Logger, opts Options[V]) (*Memoizer[V], error) {
	const op = "internal.cache.NewMemoizer"

	if client == nil && opts.Required {
		return nil, fmt.Errorf("%s: %w", op, apperrors.ErrCacheRequired)
	}

	if opts.Serialize == nil {
		opts.Serialize = GobSerialize[V]
	}

	if opts.Deserialize == nil {
		opts.Deserialize = GobDeserialize[V]
	}

	if opts.TTL >= MaxTTL && opts.TTLFunc == nil && !opts.RefreshOnAccess {
		log.Warn("entries will stay cached for MaxTTL but will not refresh on access, "+
			"consider RefreshOnAccess", slog.Duration("ttl", opts.TTL))
	}

	return &Memoizer[V]{client: client, log: log, opts: opts}, nil
}

// Do returns the cached value for (name, keyParts) or executes fetch and
// stores its result. All cache I/O and codec failures are logged and degrade
// to a miss; only fetch errors propagate.
func (m *Memoizer[V]) Do(
	ctx context.Context,
	name string,
	keyParts []string,
	fetch func(ctx context.Context) (V, error),
) (V, error) {
	return m.DoWith(ctx, name, keyParts, m.opts.Postprocess, fetch)
}

// DoWith is Do with a per-call postprocess hook, for operations whose
// cache-compatibility rule depends on the current call's arguments. A nil
// hook falls back to the configured one.
func (m *Memoizer[V]) DoWith(
	ctx context.Context,
	name string,
	keyParts []string,
	postprocess Postprocess[V],
	fetch func(ctx context.Context) (V, error),
) (V, error) {
	if m.client == nil {
		return fetch(ctx)
	}

	if postprocess == nil {
		postprocess = m.opts.Postprocess
	}

	key := GenKey(name, keyParts...)
	start := time.Now()

	if value, ok := m.lookup(ctx, name, key, postprocess); ok {
		m.opts.Metrics.observeHit(name, time.Since(start))
		return value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	m.store(ctx, name, key, value, start)

	return value, nil
}

func (m *Memoizer[V]) lookup(ctx context.Context, name string, key []byte, postprocess Postprocess[V]) (V, bool) {
	var zero V

	buffer, err := m.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.log.Warn("failed to fetch cache entry", sl.Err(err), slog.String("func", name))
		}

		return zero, false
	}

	value, err := m.opts.Deserialize(buffer)
	if err != nil {
		m.log.Warn("failed to deserialize cache entry", sl.Err(err), slog.String("func", name))
		return zero, false
	}

	if postprocess != nil {
		narrowed, ok := postprocess(ctx, value)
		if !ok {
			return zero, false
		}

		value = narrowed
	}

	if m.opts.RefreshOnAccess {
		if err := m.client.Touch(ctx, key, m.ttlFor(value)); err != nil && !errors.Is(err, ErrMiss) {
			m.log.Warn("failed to refresh cache entry", sl.Err(err), slog.String("func", name))
		}
	}

	return value, true
}

func (m *Memoizer[V]) store(ctx context.Context, name string, key []byte, value V, start time.Time) {
	payload, err := m.opts.Serialize(value)
	if err != nil {
		m.log.Warn("failed to serialize cache entry", sl.Err(err), slog.String("func", name))
		return
	}

	if err := m.client.Set(ctx, key, payload, m.ttlFor(value)); err != nil {
		m.log.Warn("failed to store cache entry", sl.Err(err),
			slog.String("func", name), slog.Int("size", len(payload)))

		return
	}

	m.opts.Metrics.observeMiss(name, time.Since(start), len(payload))
}

func (m *Memoizer[V]) ttlFor(value V) time.Duration {
	ttl := m.opts.TTL
	if m.opts.TTLFunc != nil {
		ttl = m.opts.TTLFunc(value)
	}

	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	return ttl
}

// GobSerialize is the default cache payload encoder.
func GobSerialize[V any](value V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	return buf.Bytes(), nil
}

// GobDeserialize is the default cache payload decoder.
func GobDeserialize[V any](data []byte) (V, error) {
	var value V
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return value, fmt.Errorf("gob decode: %w", err)
	}

	return value, nil
}

// Metrics tracks cache interoperability. It is an explicit sink passed to
// each memoizer instead of a package-level registry.
type Metrics struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	hitLatency  *prometheus.HistogramVec
	missLatency *prometheus.HistogramVec
	size        *prometheus.HistogramVec
}

// NewMetrics registers the cache collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Number of times the cache was useful",
		}, []string{"func"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Number of times the cache was useless",
		}, []string{"func"}),
		hitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_hit_latency_seconds",
			Help:    "Elapsed time to retrieve items from the cache",
			Buckets: prometheus.DefBuckets,
		}, []string{"func"}),
		missLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_miss_latency_seconds",
			Help:    "Elapsed time to retrieve items bypassing the cache",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"func"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_size_bytes",
			Help:    "Cached object size",
			Buckets: prometheus.ExponentialBuckets(10, 10, 7),
		}, []string{"func"}),
	}

	reg.MustRegister(m.hits, m.misses, m.hitLatency, m.missLatency, m.size)

	return m
}

func (m *Metrics) observeHit(name string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.hits.WithLabelValues(name).Inc()
	m.hitLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) observeMiss(name string, elapsed time.Duration, size int) {
	if m == nil {
		return
	}

	m.misses.WithLabelValues(name).Inc()
	m.missLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	m.size.WithLabelValues(name).Observe(float64(size))
}
