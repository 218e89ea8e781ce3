// Package profiler - Timing of named operations such as forward passes.
package profiler

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultMaxSamples is the number of durations kept per operation.
const DefaultMaxSamples = 600

// Profiler records durations of named operations. It is safe for concurrent use.
type Profiler struct {
	mu         sync.RWMutex
	maxSamples int
	startTime  time.Time
	operations map[string]*TimeTracker
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	name      string
	durations []time.Duration
	count     int64
}

// Stats summarizes the samples of one operation.
type Stats struct {
	Name   string
	Count  int64 // Total recorded, including samples dropped from the window.
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
	P50    time.Duration
	P95    time.Duration
}

// New creates a profiler keeping up to maxSamples durations per operation; zero
// means DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		maxSamples: maxSamples,
		startTime:  time.Now(),
		operations: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() { p.Record(name, time.Since(start)) }
}

// Record adds one duration for name.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operations[name]
	if !ok {
		tracker = &TimeTracker{name: name}
		p.operations[name] = tracker
	}
	tracker.durations = append(tracker.durations, d)
	if len(tracker.durations) > p.maxSamples {
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
}

// Stats returns the summary of name, and false when nothing was recorded for it.
func (p *Profiler) Stats(name string) (Stats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracker, ok := p.operations[name]
	if !ok || len(tracker.durations) == 0 {
		return Stats{}, false
	}
	return tracker.stats(), true
}

func (t *TimeTracker) stats() Stats {
	xs := make([]float64, len(t.durations))
	for i, d := range t.durations {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	return Stats{
		Name:   t.name,
		Count:  t.count,
		Mean:   time.Duration(mean),
		StdDev: time.Duration(std),
		Min:    time.Duration(xs[0]),
		Max:    time.Duration(xs[len(xs)-1]),
		P50:    time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
	}
}

// Report writes every operation's statistics and the current memory usage to w.
func (p *Profiler) Report(w io.Writer) {
	p.mu.RLock()
	names := make([]string, 0, len(p.operations))
	for name := range p.operations {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)

	fmt.Fprintf(w, "uptime %v\n", time.Since(p.startTime).Truncate(time.Millisecond))
	for _, name := range names {
		s, ok := p.Stats(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %s: mean=%v std=%v min=%v p50=%v p95=%v max=%v count=%d\n",
			name,
			s.Mean.Truncate(time.Microsecond),
			s.StdDev.Truncate(time.Microsecond),
			s.Min.Truncate(time.Microsecond),
			s.P50.Truncate(time.Microsecond),
			s.P95.Truncate(time.Microsecond),
			s.Max.Truncate(time.Microsecond),
			s.Count)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "  memory: alloc=%s heap=%s sys=%s gc=%d\n",
		formatBytes(mem.Alloc), formatBytes(mem.HeapAlloc), formatBytes(mem.Sys), mem.NumGC)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
