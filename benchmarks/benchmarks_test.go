// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package benchmarks

import (
	"io"
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rampSource is a tiny in-memory source: example i has label i%numClasses
// and input [i, label].
type rampSource struct {
	n          int
	numClasses int
}

func (r *rampSource) Len() int          { return r.n }
func (r *rampSource) Label(i int) int32 { return int32(i % r.numClasses) }
func (r *rampSource) InputDims() []int  { return []int{2} }
func (r *rampSource) CopyInput(i int, dst []float32) {
	dst[0] = float32(i)
	dst[1] = float32(i % r.numClasses)
}

func TestClassIncrementalPartition(t *testing.T) {
	trainSrc := &rampSource{n: 100, numClasses: 10}
	testSrc := &rampSource{n: 40, numClasses: 10}

	b, err := NewClassIncremental(trainSrc, testSrc, 5)
	require.NoError(t, err)
	require.Equal(t, 5, b.TrainStream().Len())
	require.Equal(t, 5, b.TestStream().Len())
	assert.Equal(t, 10, b.NumClasses)

	// Every class appears in exactly one experience, and the grouping is the
	// same on both streams.
	seen := make(map[int32]int)
	for k, exp := range b.TrainStream().Experiences {
		assert.Equal(t, k, exp.Index)
		assert.Equal(t, 0, exp.Task)
		assert.Equal(t, exp.Classes, b.TestStream().Experiences[k].Classes)
		for _, c := range exp.Classes {
			seen[c]++
		}
	}
	require.Len(t, seen, 10)
	for c, count := range seen {
		assert.Equalf(t, 1, count, "class %d assigned to %d experiences", c, count)
	}

	// Each train experience holds exactly its classes' examples.
	for _, exp := range b.TrainStream().Experiences {
		assert.Equal(t, 20, exp.Len()) // 2 classes * 10 examples each.
		src := exp.Source()
		inSet := make(map[int32]bool)
		for _, c := range exp.Classes {
			inSet[c] = true
		}
		for i := range src.Len() {
			assert.True(t, inSet[src.Label(i)])
		}
	}
}

func TestClassIncrementalRemainder(t *testing.T) {
	src := &rampSource{n: 100, numClasses: 10}
	b, err := NewClassIncremental(src, src, 3)
	require.NoError(t, err)
	sizes := make([]int, 3)
	for k, exp := range b.TrainStream().Experiences {
		sizes[k] = len(exp.Classes)
	}
	// 10 classes over 3 experiences: the last takes the remainder.
	assert.Equal(t, []int{3, 3, 4}, sizes)
}

func TestClassIncrementalOptions(t *testing.T) {
	src := &rampSource{n: 60, numClasses: 6}

	t.Run("class order", func(t *testing.T) {
		order := []int32{5, 4, 3, 2, 1, 0}
		b, err := NewClassIncremental(src, src, 3, WithClassOrder(order))
		require.NoError(t, err)
		assert.Equal(t, []int32{5, 4}, b.TrainStream().Experiences[0].Classes)
		assert.Equal(t, []int32{1, 0}, b.TrainStream().Experiences[2].Classes)
	})

	t.Run("bad class order", func(t *testing.T) {
		_, err := NewClassIncremental(src, src, 3, WithClassOrder([]int32{0, 1, 2}))
		require.Error(t, err)
		_, err = NewClassIncremental(src, src, 3, WithClassOrder([]int32{0, 1, 2, 3, 4, 99}))
		require.Error(t, err)
	})

	t.Run("shuffled is deterministic per seed", func(t *testing.T) {
		b1, err := NewClassIncremental(src, src, 3, WithShuffledClasses(42))
		require.NoError(t, err)
		b2, err := NewClassIncremental(src, src, 3, WithShuffledClasses(42))
		require.NoError(t, err)
		assert.Equal(t, b1.ClassOrder, b2.ClassOrder)
	})

	t.Run("task labels", func(t *testing.T) {
		b, err := NewClassIncremental(src, src, 3, WithTaskLabels())
		require.NoError(t, err)
		for k, exp := range b.TrainStream().Experiences {
			assert.Equal(t, k, exp.Task)
		}
	})

	t.Run("too many experiences", func(t *testing.T) {
		_, err := NewClassIncremental(src, src, 7)
		require.Error(t, err)
	})
}

func TestConcatAndView(t *testing.T) {
	a := &rampSource{n: 10, numClasses: 5}
	b := &rampSource{n: 6, numClasses: 3}
	c := Concat(a, b)
	require.Equal(t, 16, c.Len())
	assert.Equal(t, a.Label(9), c.Label(9))
	assert.Equal(t, b.Label(0), c.Label(10))
	assert.Equal(t, b.Label(5), c.Label(15))

	buf := make([]float32, 2)
	c.CopyInput(12, buf)
	assert.Equal(t, []float32{2, 2}, buf)

	v := View(c, []int{15, 0})
	require.Equal(t, 2, v.Len())
	assert.Equal(t, b.Label(5), v.Label(0))
	assert.Equal(t, a.Label(0), v.Label(1))
}

func TestDatasetEpoch(t *testing.T) {
	src := &rampSource{n: 10, numClasses: 5}
	ds := NewDataset("test", src, 4)

	var sizes []int
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		n := inputs[0].Shape().Dimensions[0]
		assert.Equal(t, []int{n, 2}, inputs[0].Shape().Dimensions)
		assert.Equal(t, dtypes.Float32, inputs[0].DType())
		assert.Equal(t, []int{n, 1}, labels[0].Shape().Dimensions)
		assert.Equal(t, dtypes.Int32, labels[0].DType())
		sizes = append(sizes, n)
	}
	// One epoch: full batches plus the partial tail, EOF only afterwards.
	assert.Equal(t, []int{4, 4, 2}, sizes)

	// After EOF the dataset rewound, a second epoch works.
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, 4, inputs[0].Shape().Dimensions[0])
}

func TestDatasetLabels(t *testing.T) {
	src := &rampSource{n: 6, numClasses: 3}
	ds := NewDataset("test", src, 6)
	_, _, labels, err := ds.Yield()
	require.NoError(t, err)
	got := labels[0].Value().([][]int32)
	require.Len(t, got, 6)
	for i, row := range got {
		assert.Equal(t, int32(i%3), row[0])
	}
}

func TestDatasetInfinite(t *testing.T) {
	src := &rampSource{n: 10, numClasses: 5}
	rng := rand.New(rand.NewSource(17))
	ds := NewDataset("test", src, 4).Shuffle(rng).Infinite()

	// Incomplete tails are dropped: every batch is full, never EOF.
	for range 20 {
		_, inputs, _, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, 4, inputs[0].Shape().Dimensions[0])
	}
}

func TestDatasetEmpty(t *testing.T) {
	src := &rampSource{n: 0, numClasses: 1}
	ds := NewDataset("empty", src, 4)
	_, _, _, err := ds.Yield()
	assert.Equal(t, io.EOF, err)
}

func TestExperienceDataset(t *testing.T) {
	src := &rampSource{n: 100, numClasses: 10}
	b, err := NewClassIncremental(src, src, 5)
	require.NoError(t, err)

	exp := b.TrainStream().Experiences[2]
	ds := exp.Dataset(10, rand.New(rand.NewSource(1)))
	total := 0
	for {
		_, _, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, row := range labels[0].Value().([][]int32) {
			assert.Contains(t, exp.Classes, row[0])
			total++
		}
	}
	assert.Equal(t, exp.Len(), total)
}
