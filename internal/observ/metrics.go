package observ

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxSamples bounds each histogram series; older samples are dropped.
const maxSamples = 1000

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labels -> count
	gauges   map[string]map[string]float64 // name -> labels -> value
	hist     map[string]map[string][]float64
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// canonLabels renders labels as k="v" pairs in key order
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, lbl[k])
	}
	return strings.Join(parts, ",")
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	series, ok := reg.counters[name]
	if !ok {
		series = map[string]int64{}
		reg.counters[name] = series
	}
	series[canonLabels(labels)] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	series, ok := reg.gauges[name]
	if !ok {
		series = map[string]float64{}
		reg.gauges[name] = series
	}
	series[canonLabels(labels)] = value
}

// Observe adds one sample to a histogram series
func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	series, ok := reg.hist[name]
	if !ok {
		series = map[string][]float64{}
		reg.hist[name] = series
	}
	k := canonLabels(labels)
	samples := append(series[k], value)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	series[k] = samples
}

// RecordDuration observes d in milliseconds under name+"_ms"
func RecordDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Microseconds())/1000, labels)
}

// CounterValue returns the current value of one labelled counter series.
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][canonLabels(labels)]
}

// Summary condenses a histogram series over its retained samples
type Summary struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

func summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	s := Summary{Count: len(sorted), Max: sorted[len(sorted)-1]}
	for _, v := range sorted {
		s.Sum += v
	}
	s.P50 = quantile(sorted, 0.50)
	s.P95 = quantile(sorted, 0.95)
	s.P99 = quantile(sorted, 0.99)
	return s
}

// quantile uses the nearest-rank method on sorted samples
func quantile(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// HistogramSummary summarizes one labelled histogram series
func HistogramSummary(name string, labels map[string]string) Summary {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return summarize(reg.hist[name][canonLabels(labels)])
}

// Reset clears every series. Tests use it to isolate counters.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = fresh.counters
	reg.gauges = fresh.gauges
	reg.hist = fresh.hist
}

type snapshot struct {
	Counters   map[string]map[string]int64   `json:"counters"`
	Gauges     map[string]map[string]float64 `json:"gauges"`
	Histograms map[string]map[string]Summary `json:"histograms"`
}

func takeSnapshot() snapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	snap := snapshot{
		Counters:   make(map[string]map[string]int64, len(reg.counters)),
		Gauges:     make(map[string]map[string]float64, len(reg.gauges)),
		Histograms: make(map[string]map[string]Summary, len(reg.hist)),
	}
	for name, series := range reg.counters {
		cp := make(map[string]int64, len(series))
		for k, v := range series {
			cp[k] = v
		}
		snap.Counters[name] = cp
	}
	for name, series := range reg.gauges {
		cp := make(map[string]float64, len(series))
		for k, v := range series {
			cp[k] = v
		}
		snap.Gauges[name] = cp
	}
	for name, series := range reg.hist {
		sums := make(map[string]Summary, len(series))
		for k, samples := range series {
			sums[k] = summarize(samples)
		}
		snap.Histograms[name] = sums
	}
	return snap
}

// Handler serves the registry as JSON, or as text exposition lines with ?format=text
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := takeSnapshot()
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			writeText(w, snap)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

func writeText(w http.ResponseWriter, snap snapshot) {
	series := func(name, labels string) string {
		if labels == "" {
			return name
		}
		return name + "{" + labels + "}"
	}
	withQuantile := func(labels, q string) string {
		if labels == "" {
			return `quantile="` + q + `"`
		}
		return labels + `,quantile="` + q + `"`
	}

	for _, name := range sortedKeys(snap.Counters) {
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		for _, k := range sortedKeys(snap.Counters[name]) {
			fmt.Fprintf(w, "%s %d\n", series(name, k), snap.Counters[name][k])
		}
	}
	for _, name := range sortedKeys(snap.Gauges) {
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		for _, k := range sortedKeys(snap.Gauges[name]) {
			fmt.Fprintf(w, "%s %g\n", series(name, k), snap.Gauges[name][k])
		}
	}
	for _, name := range sortedKeys(snap.Histograms) {
		fmt.Fprintf(w, "# TYPE %s summary\n", name)
		for _, k := range sortedKeys(snap.Histograms[name]) {
			s := snap.Histograms[name][k]
			fmt.Fprintf(w, "%s %g\n", series(name, withQuantile(k, "0.5")), s.P50)
			fmt.Fprintf(w, "%s %g\n", series(name, withQuantile(k, "0.95")), s.P95)
			fmt.Fprintf(w, "%s %g\n", series(name, withQuantile(k, "0.99")), s.P99)
			fmt.Fprintf(w, "%s %g\n", series(name+"_sum", k), s.Sum)
			fmt.Fprintf(w, "%s %d\n", series(name+"_count", k), s.Count)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
