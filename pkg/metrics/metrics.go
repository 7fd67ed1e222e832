// Metrics collection for the printer host driver
//
// Counters, gauges and histograms rendered in the Prometheus text
// exposition format.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies a label set within one metric.
func (l Labels) key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the set as {a="1",b="2"}, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Labels) with(k, v string) Labels {
	out := l.clone()
	out[k] = v
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the label sets of one metric. Series are written in label
// order so scrapes are stable.
type family[V any] struct {
	name, help string
	mu         sync.Mutex
	series     map[string]*V
	labels     map[string]Labels
	newValue   func() *V
}

func (f *family[V]) get(l Labels) *V {
	k := l.key()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.series == nil {
		f.series = make(map[string]*V)
		f.labels = make(map[string]Labels)
	}
	v, ok := f.series[k]
	if !ok {
		v = f.newValue()
		f.series[k] = v
		f.labels[k] = l.clone()
	}
	return v
}

func (f *family[V]) lookup(l Labels) (*V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.series[l.key()]
	return v, ok
}

func (f *family[V]) each(fn func(Labels, *V)) {
	f.mu.Lock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	type entry struct {
		l Labels
		v *V
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{f.labels[k], f.series[k]}
	}
	f.mu.Unlock()

	for _, e := range entries {
		fn(e.l, e.v)
	}
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

func writeSample(sb *strings.Builder, name string, l Labels, value string) {
	sb.WriteString(name)
	sb.WriteString(l.String())
	sb.WriteByte(' ')
	sb.WriteString(value)
	sb.WriteByte('\n')
}

// Counter is a monotonically increasing metric
type Counter struct {
	f family[counterValue]
}

type counterValue struct {
	mu sync.Mutex
	v  uint64
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.f.name, c.f.help = name, help
	c.f.newValue = func() *counterValue { return &counterValue{} }
	return c
}

func (c *Counter) Name() string     { return c.f.name }
func (c *Counter) Help() string     { return c.f.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by delta
func (c *Counter) Add(labels Labels, delta uint64) {
	v := c.f.get(labels)
	v.mu.Lock()
	v.v += delta
	v.mu.Unlock()
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) uint64 {
	v, ok := c.f.lookup(labels)
	if !ok {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.f.name, c.f.help, TypeCounter)
	c.f.each(func(l Labels, v *counterValue) {
		v.mu.Lock()
		n := v.v
		v.mu.Unlock()
		writeSample(sb, c.f.name, l, strconv.FormatUint(n, 10))
	})
}

// Gauge is a metric that can go up and down
type Gauge struct {
	f family[gaugeValue]
}

type gaugeValue struct {
	mu sync.Mutex
	v  float64
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.f.name, g.f.help = name, help
	g.f.newValue = func() *gaugeValue { return &gaugeValue{} }
	return g
}

func (g *Gauge) Name() string     { return g.f.name }
func (g *Gauge) Help() string     { return g.f.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to value
func (g *Gauge) Set(labels Labels, value float64) {
	v := g.f.get(labels)
	v.mu.Lock()
	v.v = value
	v.mu.Unlock()
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	v := g.f.get(labels)
	v.mu.Lock()
	v.v += delta
	v.mu.Unlock()
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	v, ok := g.f.lookup(labels)
	if !ok {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.f.name, g.f.help, TypeGauge)
	g.f.each(func(l Labels, v *gaugeValue) {
		v.mu.Lock()
		x := v.v
		v.mu.Unlock()
		writeSample(sb, g.f.name, l, formatFloat(x))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	f       family[histogramValue]
	buckets []float64
}

type histogramValue struct {
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	h := &Histogram{buckets: sorted}
	h.f.name, h.f.help = name, help
	h.f.newValue = func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(sorted))}
	}
	return h
}

// DefaultBuckets returns latency buckets in seconds, from 5ms to 10s.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

func (h *Histogram) Name() string     { return h.f.name }
func (h *Histogram) Help() string     { return h.f.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value
func (h *Histogram) Observe(labels Labels, value float64) {
	v := h.f.get(labels)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.count++
	v.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		v.counts[i]++
	}
}

// ObserveDuration records d in seconds
func (h *Histogram) ObserveDuration(labels Labels, d time.Duration) {
	h.Observe(labels, d.Seconds())
}

// HistogramSnapshot is a point-in-time copy of one series.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64 // cumulative
}

// GetSnapshot returns the series for labels
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	v, ok := h.f.lookup(labels)
	if !ok {
		return snap
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	snap.Count, snap.Sum = v.count, v.sum
	var cum uint64
	for i, bound := range h.buckets {
		cum += v.counts[i]
		snap.Buckets[bound] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.f.name, h.f.help, TypeHistogram)
	h.f.each(func(l Labels, _ *histogramValue) {
		s := h.GetSnapshot(l)
		for _, bound := range h.buckets {
			writeSample(sb, h.f.name+"_bucket", l.with("le", formatFloat(bound)), strconv.FormatUint(s.Buckets[bound], 10))
		}
		writeSample(sb, h.f.name+"_bucket", l.with("le", "+Inf"), strconv.FormatUint(s.Count, 10))
		writeSample(sb, h.f.name+"_sum", l, formatFloat(s.Sum))
		writeSample(sb, h.f.name+"_count", l, strconv.FormatUint(s.Count, 10))
	})
}

// Registry holds metrics in registration order
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[m.Name()]; exists {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric in the text exposition format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
