package postprocess

import (
	"sort"
	"sync"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap threshold for suppression.
	ClassAware   bool    // If true, suppress only within same class.
	NumWorkers   int     // Goroutines suppressing classes in parallel when ClassAware.
}

// DefaultNMSConfig returns class-aware suppression at IoU 0.45.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{IoUThreshold: 0.45, ClassAware: true, NumWorkers: 1}
}

// ApplyNMS filters overlapping detections with greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections, still sorted by descending confidence. If no
//     detections are provided, returns nil.
func ApplyNMS(detections []Result, config NMSConfig) []Result {
	if len(detections) == 0 {
		return nil
	}
	if !config.ClassAware {
		return greedy(detections, config.IoUThreshold)
	}

	byClass := map[int][]Result{}
	var classes []int
	for _, d := range detections {
		if _, ok := byClass[d.Class]; !ok {
			classes = append(classes, d.Class)
		}
		byClass[d.Class] = append(byClass[d.Class], d)
	}

	workers := config.NumWorkers
	if workers < 1 {
		workers = 1
	}
	kept := make([][]Result, len(classes))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				kept[i] = greedy(byClass[classes[i]], config.IoUThreshold)
			}
		}()
	}
	for i := range classes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var filtered []Result
	for _, k := range kept {
		filtered = append(filtered, k...)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	return filtered
}

// greedy keeps each detection that overlaps no higher-scoring kept detection by
// more than threshold.
func greedy(detections []Result, threshold float32) []Result {
	filtered := make([]Result, 0, len(detections))
	used := make([]bool, len(detections))
	for i, anchor := range detections {
		if used[i] {
			continue
		}
		filtered = append(filtered, anchor)
		for j := i + 1; j < len(detections); j++ {
			if !used[j] && anchor.Box.IoU(detections[j].Box) > threshold {
				used[j] = true
			}
		}
	}
	return filtered
}
