// Unit tests for the metric types
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestCounterBasic tests basic counter operations
func TestCounterBasic(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %d", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("expected 11, got %d", v)
	}
	if c.Name() != "test_counter" || c.Help() != "A test counter" || c.Type() != TypeCounter {
		t.Errorf("unexpected metadata %q %q %v", c.Name(), c.Help(), c.Type())
	}
}

// TestCounterWithLabels tests that label sets are independent
func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("commands_total", "Commands")

	g0 := Labels{"command": "G0"}
	m114 := Labels{"command": "M114"}
	c.Inc(g0)
	c.Inc(g0)
	c.Inc(m114)

	if v := c.Get(g0); v != 2 {
		t.Errorf("G0 = %d, want 2", v)
	}
	if v := c.Get(m114); v != 1 {
		t.Errorf("M114 = %d, want 1", v)
	}
	if v := c.Get(Labels{"command": "G28"}); v != 0 {
		t.Errorf("G28 = %d, want 0", v)
	}
}

// TestLabelsAreCopied checks that mutating a label map after use does
// not move the series.
func TestLabelsAreCopied(t *testing.T) {
	c := NewCounter("copied_total", "Copied")
	l := Labels{"axis": "X"}
	c.Inc(l)
	l["axis"] = "Y"

	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), `copied_total{axis="X"} 1`) {
		t.Errorf("output:\n%s", sb.String())
	}
}

// TestCounterConcurrency tests counter thread safety
func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_counter", "Concurrent access")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Inc(Labels{"worker": "all"})
			}
		}()
	}
	wg.Wait()

	if v := c.Get(Labels{"worker": "all"}); v != 50*200 {
		t.Errorf("expected %d, got %d", 50*200, v)
	}
}

// TestGauge tests set and add
func TestGauge(t *testing.T) {
	g := NewGauge("position_mm", "Position")
	x := Labels{"axis": "X"}

	g.Set(x, 12.5)
	g.Add(x, -2.5)
	if v := g.Get(x); v != 10 {
		t.Errorf("expected 10, got %v", v)
	}
	if v := g.Get(Labels{"axis": "Z"}); v != 0 {
		t.Errorf("unset gauge = %v", v)
	}
	if g.Type() != TypeGauge {
		t.Errorf("type = %v", g.Type())
	}
}

// TestHistogram tests bucket accounting
func TestHistogram(t *testing.T) {
	h := NewHistogram("latency_seconds", "Latency", []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.05, 0.1, 0.3, 0.7, 2} {
		h.Observe(nil, v)
	}
	s := h.GetSnapshot(nil)
	if s.Count != 5 {
		t.Errorf("count = %d", s.Count)
	}
	if math.Abs(s.Sum-3.15) > 1e-9 {
		t.Errorf("sum = %v", s.Sum)
	}
	want := map[float64]uint64{0.1: 2, 0.5: 3, 1: 4}
	for bound, n := range want {
		if s.Buckets[bound] != n {
			t.Errorf("bucket le=%v = %d, want %d", bound, s.Buckets[bound], n)
		}
	}

	h.ObserveDuration(Labels{"op": "ack"}, 20*time.Millisecond)
	if s := h.GetSnapshot(Labels{"op": "ack"}); s.Count != 1 || s.Buckets[0.1] != 1 {
		t.Errorf("duration snapshot = %+v", s)
	}
}

// TestHistogramExposition checks the bucket, sum and count lines
func TestHistogramExposition(t *testing.T) {
	h := NewHistogram("wait_seconds", "Wait", []float64{0.5, 1})
	h.Observe(nil, 0.25)
	h.Observe(nil, 3)

	var sb strings.Builder
	h.Write(&sb)
	want := `# HELP wait_seconds Wait
# TYPE wait_seconds histogram
wait_seconds_bucket{le="0.5"} 1
wait_seconds_bucket{le="1"} 1
wait_seconds_bucket{le="+Inf"} 2
wait_seconds_sum 3.25
wait_seconds_count 2
`
	if sb.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", sb.String(), want)
	}
}

// TestLabelsString tests ordering and escaping
func TestLabelsString(t *testing.T) {
	tests := []struct {
		labels Labels
		want   string
	}{
		{nil, ""},
		{Labels{}, ""},
		{Labels{"b": "2", "a": "1"}, `{a="1",b="2"}`},
		{Labels{"msg": "say \"hi\"\n"}, `{msg="say \"hi\"\n"}`},
		{Labels{"path": `C:\x`}, `{path="C:\\x"}`},
	}
	for _, tt := range tests {
		if got := tt.labels.String(); got != tt.want {
			t.Errorf("%v.String() = %s, want %s", map[string]string(tt.labels), got, tt.want)
		}
	}
}

// TestRegistryGather checks registration order and sorted series
func TestRegistryGather(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("moves_total", "Moves")
	g := NewGauge("speed", "Speed")
	r.MustRegister(c)
	r.MustRegister(g)

	c.Inc(Labels{"kind": "relative"})
	c.Inc(Labels{"kind": "absolute"})
	g.Set(nil, 60)

	want := `# HELP moves_total Moves
# TYPE moves_total counter
moves_total{kind="absolute"} 1
moves_total{kind="relative"} 1
# HELP speed Speed
# TYPE speed gauge
speed 60
`
	if got := r.Gather(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
	if r.Get("speed") != g {
		t.Error("Get returned the wrong metric")
	}
}

// TestRegistryDuplicate tests duplicate name rejection
func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCounter("dup", "first"))
	if err := r.Register(NewGauge("dup", "second")); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	r.MustRegister(NewCounter("dup", "third"))
}

// TestFormatFloat tests special values
func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0:            "0",
		1.5:          "1.5",
		-200:         "-200",
		math.Inf(1):  "+Inf",
		math.Inf(-1): "-Inf",
	}
	for v, want := range tests {
		if got := formatFloat(v); got != want {
			t.Errorf("formatFloat(%v) = %s, want %s", v, got, want)
		}
	}
}
