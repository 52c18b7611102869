// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation collects and reports continual-learning metrics.
//
// The central object is the Collector, which accumulates an accuracy
// matrix: one row per evaluation pass (typically run after each trained
// experience), one column per evaluated experience. From it the standard
// continual-learning summaries are derived: average accuracy over the
// stream and forgetting per experience.
package evaluation

import (
	"sync"

	"github.com/pkg/errors"
)

// Result holds the metrics of one experience evaluated during one pass.
type Result struct {
	ExpIndex int
	ExpName  string
	Loss     float64
	Accuracy float64
}

// Collector accumulates evaluation results across evaluation passes.
//
// It is safe for concurrent use, although the usual train/eval loop is
// sequential.
type Collector struct {
	mu sync.Mutex

	// passes[p] holds the results of evaluation pass p, indexed by
	// experience.
	passes []map[int]Result

	// trainedAt[p] records how many experiences had been trained when
	// pass p ran.
	trainedAt []int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// BeginEvalPass opens a new evaluation pass, performed after
// trainedExperiences experiences have been trained. Subsequent RecordEval
// calls land in this pass.
func (c *Collector) BeginEvalPass(trainedExperiences int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passes = append(c.passes, make(map[int]Result))
	c.trainedAt = append(c.trainedAt, trainedExperiences)
}

// RecordEval reports the metrics of one evaluated experience within the
// current pass. It panics if called before any BeginEvalPass.
func (c *Collector) RecordEval(expIndex int, expName string, loss, accuracy float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.passes) == 0 {
		panic(errors.New("Collector.RecordEval called before BeginEvalPass"))
	}
	c.passes[len(c.passes)-1][expIndex] = Result{
		ExpIndex: expIndex,
		ExpName:  expName,
		Loss:     loss,
		Accuracy: accuracy,
	}
}

// NumPasses returns the number of evaluation passes recorded.
func (c *Collector) NumPasses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passes)
}

// Pass returns the results of pass p, ordered by experience index, and
// the number of experiences that had been trained when it ran.
func (c *Collector) Pass(p int) (results []Result, trainedExperiences int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passResultsLocked(p), c.trainedAt[p]
}

func (c *Collector) passResultsLocked(p int) []Result {
	pass := c.passes[p]
	maxIdx := -1
	for idx := range pass {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	results := make([]Result, 0, len(pass))
	for idx := 0; idx <= maxIdx; idx++ {
		if r, ok := pass[idx]; ok {
			results = append(results, r)
		}
	}
	return results
}

// Accuracy returns the accuracy of experience expIndex at pass p, and
// whether it was evaluated in that pass.
func (c *Collector) Accuracy(p, expIndex int) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.passes[p][expIndex]
	return r.Accuracy, ok
}

// AverageAccuracy returns the mean accuracy over the experiences
// evaluated in pass p.
func (c *Collector) AverageAccuracy(p int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.passes[p]
	if len(pass) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range pass {
		sum += r.Accuracy
	}
	return sum / float64(len(pass))
}

// Forgetting returns, for the last pass, how much accuracy experience
// expIndex lost relative to its best accuracy in any earlier pass.
// Positive values mean forgetting; negative values mean backward
// transfer. The second return is false when the experience was never
// evaluated before the last pass.
func (c *Collector) Forgetting(expIndex int) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.passes) < 2 {
		return 0, false
	}
	last, ok := c.passes[len(c.passes)-1][expIndex]
	if !ok {
		return 0, false
	}
	best, seen := 0.0, false
	for p := 0; p < len(c.passes)-1; p++ {
		if r, ok := c.passes[p][expIndex]; ok {
			if !seen || r.Accuracy > best {
				best = r.Accuracy
				seen = true
			}
		}
	}
	if !seen {
		return 0, false
	}
	return best - last.Accuracy, true
}

// AverageForgetting returns the mean forgetting over all experiences with
// a defined forgetting value.
func (c *Collector) AverageForgetting() float64 {
	c.mu.Lock()
	indices := make(map[int]bool)
	for _, pass := range c.passes {
		for idx := range pass {
			indices[idx] = true
		}
	}
	c.mu.Unlock()

	sum, n := 0.0, 0
	for idx := range indices {
		if f, ok := c.Forgetting(idx); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
