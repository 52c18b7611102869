// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsosn/avalanche/benchmarks"
)

// rampSource is a deterministic in-memory Source: example i has label
// i%numClasses and input [i, label].
type rampSource struct {
	n, numClasses int
}

func (s rampSource) Len() int          { return s.n }
func (s rampSource) InputDims() []int  { return []int{2} }
func (s rampSource) Label(i int) int32 { return int32(i % s.numClasses) }
func (s rampSource) CopyInput(i int, dst []float32) {
	dst[0] = float32(i)
	dst[1] = float32(i % s.numClasses)
}

func TestReservoirBuffer(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	buf := NewReservoirBuffer(10)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 10, buf.Capacity())

	// Fewer examples than capacity: everything is kept.
	buf.Update(rampSource{n: 4, numClasses: 2}, rng)
	assert.Equal(t, 4, buf.Len())

	// Many more examples: the buffer stays at capacity.
	buf.Update(rampSource{n: 1000, numClasses: 2}, rng)
	assert.Equal(t, 10, buf.Len())

	src := buf.Source()
	require.Equal(t, 10, src.Len())
	assert.Equal(t, []int{2}, src.InputDims())
	input := make([]float32, 2)
	for i := range src.Len() {
		src.CopyInput(i, input)
		assert.Equal(t, float32(src.Label(i)), input[1])
	}
}

func TestReservoirBufferIsUniformish(t *testing.T) {
	// After feeding examples 0..999 into a capacity-100 reservoir, the
	// buffered indices should not be concentrated in the early range.
	rng := rand.New(rand.NewSource(7))
	buf := NewReservoirBuffer(100)
	buf.Update(rampSource{n: 1000, numClasses: 10}, rng)

	src := buf.Source()
	input := make([]float32, 2)
	fromSecondHalf := 0
	for i := range src.Len() {
		src.CopyInput(i, input)
		if input[0] >= 500 {
			fromSecondHalf++
		}
	}
	// Expected ~50; anything in [25, 75] is comfortably uniform.
	assert.Greater(t, fromSecondHalf, 25)
	assert.Less(t, fromSecondHalf, 75)
}

func TestClassBalancedBuffer(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := NewClassBalancedBuffer(10)

	// Two classes: quotas 5+5.
	buf.Update(rampSource{n: 100, numClasses: 2}, rng)
	assert.Equal(t, 10, buf.Len())
	counts := classCounts(t, buf.Source())
	assert.Equal(t, map[int32]int{0: 5, 1: 5}, counts)

	// A third class arrives: quotas become 4, 3, 3 (first class by
	// ascending order gets the extra slot).
	third := benchmarks.View(rampSource{n: 30, numClasses: 3}, classIndices(rampSource{n: 30, numClasses: 3}, 2))
	buf.Update(third, rng)
	assert.Equal(t, 10, buf.Len())
	counts = classCounts(t, buf.Source())
	assert.Equal(t, map[int32]int{0: 4, 1: 3, 2: 3}, counts)
}

func TestClassBalancedBufferEmptyUpdate(t *testing.T) {
	// Updating with an empty source, before any class has been seen, is a
	// no-op rather than a crash.
	rng := rand.New(rand.NewSource(5))
	buf := NewClassBalancedBuffer(10)
	assert.NotPanics(t, func() {
		buf.Update(rampSource{n: 0, numClasses: 2}, rng)
	})
	assert.Equal(t, 0, buf.Len())

	// After real examples arrive, an empty update leaves them untouched.
	buf.Update(rampSource{n: 100, numClasses: 2}, rng)
	buf.Update(rampSource{n: 0, numClasses: 2}, rng)
	assert.Equal(t, 10, buf.Len())
}

func TestClassBalancedBufferFewExamples(t *testing.T) {
	// A class with fewer examples than its quota keeps what it has.
	rng := rand.New(rand.NewSource(3))
	buf := NewClassBalancedBuffer(100)
	buf.Update(rampSource{n: 6, numClasses: 2}, rng)
	assert.Equal(t, 6, buf.Len())
}

func classCounts(t *testing.T, src benchmarks.Source) map[int32]int {
	t.Helper()
	counts := make(map[int32]int)
	for i := range src.Len() {
		counts[src.Label(i)]++
	}
	return counts
}

func classIndices(src benchmarks.Source, class int32) []int {
	var indices []int
	for i := range src.Len() {
		if src.Label(i) == class {
			indices = append(indices, i)
		}
	}
	return indices
}
