// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package benchmarks

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/types/tensors"
)

// Dataset yields batches of a Source as tensors, implementing gomlx's
// train.Dataset. Inputs are float32 shaped [batch, InputDims...]; labels are
// int32 shaped [batch, 1], the shape expected by gomlx's sparse categorical
// losses and accuracy metrics.
//
// By default it runs one epoch: the last batch may be partial, and the call
// after it returns io.EOF. Configured Infinite, it re-shuffles and wraps
// around instead, dropping incomplete tails so every batch keeps the same
// shape, and never returns io.EOF; use it with Loop.RunSteps.
type Dataset struct {
	name      string
	src       Source
	batchSize int

	mu       sync.Mutex
	rng      *rand.Rand
	infinite bool
	indices  []int
	position int
}

// NewDataset creates a Dataset over all examples of src. See Dataset for
// the yielding semantics.
func NewDataset(name string, src Source, batchSize int) *Dataset {
	ds := &Dataset{
		name:      name,
		src:       src,
		batchSize: batchSize,
	}
	ds.indices = make([]int, src.Len())
	for i := range ds.indices {
		ds.indices[i] = i
	}
	return ds
}

// Shuffle makes the dataset yield examples in random order, re-shuffling at
// every Reset (and at every wrap-around, if Infinite). It returns ds to
// allow cascading configuration calls.
func (ds *Dataset) Shuffle(rng *rand.Rand) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.rng = rng
	ds.reshuffleLocked()
	return ds
}

// Infinite makes the dataset loop forever instead of returning io.EOF at
// the end of an epoch. It returns ds to allow cascading configuration calls.
func (ds *Dataset) Infinite() *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = true
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Len returns the number of examples.
func (ds *Dataset) Len() int { return ds.src.Len() }

// Yield implements train.Dataset. The spec returned is the dataset itself.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if len(ds.indices) == 0 {
		return nil, nil, nil, io.EOF
	}
	if ds.infinite && ds.position+ds.batchSize > len(ds.indices) && ds.batchSize <= len(ds.indices) {
		// Drop the incomplete tail so every batch keeps the same shape.
		ds.position = 0
		ds.reshuffleLocked()
	}
	if ds.position >= len(ds.indices) {
		// End of epoch (finite mode, or infinite with batchSize > Len).
		ds.position = 0
		ds.reshuffleLocked()
		if !ds.infinite {
			return nil, nil, nil, io.EOF
		}
	}

	start := ds.position
	end := min(start+ds.batchSize, len(ds.indices))
	ds.position = end

	batch := ds.indices[start:end]
	inputsT, labelsT := ds.materialize(batch)
	return ds, []*tensors.Tensor{inputsT}, []*tensors.Tensor{labelsT}, nil
}

// Reset implements train.Dataset: rewinds to the start of a fresh epoch.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.position = 0
	ds.reshuffleLocked()
}

func (ds *Dataset) reshuffleLocked() {
	if ds.rng == nil {
		return
	}
	ds.rng.Shuffle(len(ds.indices), func(i, j int) {
		ds.indices[i], ds.indices[j] = ds.indices[j], ds.indices[i]
	})
}

// materialize builds the input and label tensors for the examples at the
// given source indices.
func (ds *Dataset) materialize(batch []int) (inputs, labels *tensors.Tensor) {
	dims := ds.src.InputDims()
	perExample := 1
	for _, d := range dims {
		perExample *= d
	}
	n := len(batch)
	flat := make([]float32, n*perExample)
	labelsFlat := make([]int32, n)
	for i, idx := range batch {
		ds.src.CopyInput(idx, flat[i*perExample:(i+1)*perExample])
		labelsFlat[i] = ds.src.Label(idx)
	}
	inputs = tensors.FromFlatDataAndDimensions(flat, append([]int{n}, dims...)...)
	labels = tensors.FromFlatDataAndDimensions(labelsFlat, n, 1)
	return
}
