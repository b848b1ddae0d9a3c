// Package metrics holds the counters, gauges and histograms of the process
// and renders them in the Prometheus exposition format.
//
// A metric is identified by its name and label set. The first write to an
// unseen name creates the metric with the label keys of that write; later
// writes must use the same keys.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Sentinel errors for metric writes.
var (
	ErrKindConflict      = errors.New("metric registered with a different kind")
	ErrLabelMismatch     = errors.New("label keys differ from registered keys")
	ErrNegativeIncrement = errors.New("counter increment must not be negative")
)

// DefaultBuckets are the histogram upper bounds in seconds.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}

// Labels is a label set. Key order is irrelevant.
type Labels map[string]string

// Kind is the type of a metric.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

type family struct {
	kind    Kind
	keys    []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	hist    *prometheus.HistogramVec
}

func (f *family) matches(labels Labels) bool {
	if len(labels) != len(f.keys) {
		return false
	}
	for _, k := range f.keys {
		if _, ok := labels[k]; !ok {
			return false
		}
	}
	return true
}

// Registry is the shared metric store. It is safe for concurrent use.
type Registry struct {
	reg     *prometheus.Registry
	buckets []float64

	mu       sync.RWMutex
	help     map[string]string
	families map[string]*family
}

// Option is a functional option for NewRegistry.
type Option func(*registryConfig)

type registryConfig struct {
	registry *prometheus.Registry
	buckets  []float64
	help     map[string]string
	runtime  bool
}

// WithPrometheusRegistry backs the Registry with an existing prometheus.Registry.
// By default a fresh one is created.
func WithPrometheusRegistry(r *prometheus.Registry) Option {
	return func(c *registryConfig) {
		c.registry = r
	}
}

// WithBuckets sets the histogram upper bounds in seconds.
func WithBuckets(buckets ...float64) Option {
	return func(c *registryConfig) {
		c.buckets = buckets
	}
}

// WithHelp sets the HELP text of a metric.
func WithHelp(name, help string) Option {
	return func(c *registryConfig) {
		c.help[name] = help
	}
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(c *registryConfig) {
		c.runtime = true
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	cfg := registryConfig{
		buckets: DefaultBuckets,
		help:    make(map[string]string),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	if cfg.runtime {
		if err := cfg.registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("metrics: go collector: %w", err)
		}
		if err := cfg.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("metrics: process collector: %w", err)
		}
	}

	return &Registry{
		reg:      cfg.registry,
		buckets:  cfg.buckets,
		help:     cfg.help,
		families: make(map[string]*family),
	}, nil
}

// Describe sets the HELP text for name. It has no effect once the metric exists.
func (r *Registry) Describe(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help[name] = help
}

// IncCounter increments the counter identified by name and labels by one.
func (r *Registry) IncCounter(name string, labels Labels) error {
	return r.AddCounter(name, labels, 1)
}

// AddCounter adds v to the counter identified by name and labels.
func (r *Registry) AddCounter(name string, labels Labels, v float64) error {
	if v < 0 {
		return fmt.Errorf("metrics: %s: %w", name, ErrNegativeIncrement)
	}
	f, err := r.family(name, KindCounter, labels)
	if err != nil {
		return err
	}
	c, err := f.counter.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("metrics: %s: %w", name, err)
	}
	c.Add(v)
	return nil
}

// SetGauge sets the gauge identified by name and labels.
func (r *Registry) SetGauge(name string, labels Labels, v float64) error {
	g, err := r.gaugeWith(name, labels)
	if err != nil {
		return err
	}
	g.Set(v)
	return nil
}

// AddGauge adds delta (which may be negative) to the gauge.
func (r *Registry) AddGauge(name string, labels Labels, delta float64) error {
	g, err := r.gaugeWith(name, labels)
	if err != nil {
		return err
	}
	g.Add(delta)
	return nil
}

func (r *Registry) gaugeWith(name string, labels Labels) (prometheus.Gauge, error) {
	f, err := r.family(name, KindGauge, labels)
	if err != nil {
		return nil, err
	}
	g, err := f.gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return nil, fmt.Errorf("metrics: %s: %w", name, err)
	}
	return g, nil
}

// ObserveHistogram records d into the unlabeled histogram name.
func (r *Registry) ObserveHistogram(name string, d time.Duration) error {
	return r.ObserveHistogramWith(name, nil, d)
}

// ObserveHistogramWith records d into the histogram identified by name and labels.
func (r *Registry) ObserveHistogramWith(name string, labels Labels, d time.Duration) error {
	f, err := r.family(name, KindHistogram, labels)
	if err != nil {
		return err
	}
	h, err := f.hist.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("metrics: %s: %w", name, err)
	}
	h.Observe(d.Seconds())
	return nil
}

// Value returns the current value of a counter or gauge, or the observation
// count of a histogram. ok is false if no series with exactly these labels
// exists. Value never creates a series.
func (r *Registry) Value(name string, labels Labels) (v float64, ok bool) {
	r.mu.RLock()
	_, exists := r.families[name]
	r.mu.RUnlock()
	if !exists {
		return 0, false
	}

	mfs, err := r.reg.Gather()
	if err != nil {
		return 0, false
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !sameLabels(labelsOf(m), labels) {
				continue
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue(), true
			case dto.MetricType_GAUGE:
				return m.GetGauge().GetValue(), true
			case dto.MetricType_HISTOGRAM:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
			return 0, false
		}
	}
	return 0, false
}

func sameLabels(a, b Labels) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an http.Handler serving the exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// WriteText writes all metrics in the text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	mfs, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// family returns the metric family for name, creating it on first use.
func (r *Registry) family(name string, kind Kind, labels Labels) (*family, error) {
	r.mu.RLock()
	f, ok := r.families[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		f, ok = r.families[name]
		if !ok {
			var err error
			f, err = r.newFamily(name, kind, labels)
			if err != nil {
				r.mu.Unlock()
				return nil, err
			}
			r.families[name] = f
		}
		r.mu.Unlock()
	}

	if f.kind != kind {
		return nil, fmt.Errorf("metrics: %s is a %s: %w", name, f.kind, ErrKindConflict)
	}
	if !f.matches(labels) {
		return nil, fmt.Errorf("metrics: %s wants labels %v: %w", name, f.keys, ErrLabelMismatch)
	}
	return f, nil
}

// newFamily must be called with r.mu held.
func (r *Registry) newFamily(name string, kind Kind, labels Labels) (*family, error) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	help := r.help[name]
	if help == "" {
		help = name
	}

	f := &family{kind: kind, keys: keys}
	var c prometheus.Collector
	switch kind {
	case KindCounter:
		f.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, keys)
		c = f.counter
	case KindGauge:
		f.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, keys)
		c = f.gauge
	case KindHistogram:
		f.hist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: r.buckets,
		}, keys)
		c = f.hist
	default:
		return nil, fmt.Errorf("metrics: unknown kind %q", kind)
	}

	if err := r.reg.Register(c); err != nil {
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return f, nil
}

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	UpperBound float64
	Count      uint64
}

// Sample is one exported observation. Value is set for counters and gauges;
// Buckets, Sum and Count for histograms.
type Sample struct {
	Name    string
	Kind    Kind
	Labels  Labels
	Value   float64
	Buckets []Bucket
	Sum     float64
	Count   uint64
}

// Export returns all samples ordered by metric name, then by label values.
// Summaries from the runtime collectors are omitted.
func (r *Registry) Export() ([]Sample, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}

	var samples []Sample
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			s := Sample{Name: mf.GetName(), Labels: labelsOf(m)}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Kind = KindCounter
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Kind = KindGauge
				s.Value = m.GetGauge().GetValue()
			case dto.MetricType_UNTYPED:
				s.Kind = KindGauge
				s.Value = m.GetUntyped().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				s.Kind = KindHistogram
				s.Sum = h.GetSampleSum()
				s.Count = h.GetSampleCount()
				for _, b := range h.GetBucket() {
					s.Buckets = append(s.Buckets, Bucket{UpperBound: b.GetUpperBound(), Count: b.GetCumulativeCount()})
				}
				if n := len(s.Buckets); n == 0 || !math.IsInf(s.Buckets[n-1].UpperBound, 1) {
					s.Buckets = append(s.Buckets, Bucket{UpperBound: math.Inf(1), Count: h.GetSampleCount()})
				}
			default:
				continue
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func labelsOf(m *dto.Metric) Labels {
	pairs := m.GetLabel()
	if len(pairs) == 0 {
		return nil
	}
	labels := make(Labels, len(pairs))
	for _, lp := range pairs {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}
