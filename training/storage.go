// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/alexsosn/avalanche/benchmarks"
)

// StoragePolicy maintains a bounded buffer of examples sampled from past
// experiences, for replay-style strategies.
type StoragePolicy interface {
	// Update folds a new experience's examples into the buffer,
	// respecting the capacity.
	Update(src benchmarks.Source, rng *rand.Rand)

	// Source exposes the buffered examples for training.
	Source() benchmarks.Source

	// Len returns the number of buffered examples.
	Len() int

	// Capacity returns the maximum number of buffered examples.
	Capacity() int
}

// StoredExample is a reference to one example held by a buffer. Buffers
// store references, not copies: the example data stays in the originating
// Source.
type StoredExample struct {
	Source benchmarks.Source
	Index  int
}

// entriesSource presents a slice of stored references as a
// benchmarks.Source. All entries must share the same input dimensions.
type entriesSource struct {
	entries []StoredExample
	dims    []int
}

func (s *entriesSource) Len() int          { return len(s.entries) }
func (s *entriesSource) InputDims() []int  { return s.dims }
func (s *entriesSource) Label(i int) int32 { return s.entries[i].Source.Label(s.entries[i].Index) }
func (s *entriesSource) CopyInput(i int, dst []float32) {
	s.entries[i].Source.CopyInput(s.entries[i].Index, dst)
}

func newEntriesSource(entries []StoredExample) benchmarks.Source {
	src := &entriesSource{entries: entries}
	if len(entries) > 0 {
		src.dims = entries[0].Source.InputDims()
	}
	return src
}

func bufferString(name string, n, capacity int, dims []int) string {
	elems := n
	for _, d := range dims {
		elems *= d
	}
	return fmt.Sprintf("%s{%d/%d examples, ~%s}", name, n, capacity,
		humanize.IBytes(uint64(elems)*4))
}

// ReservoirBuffer keeps a uniform sample over every example ever offered
// to it, using reservoir sampling: after seeing N examples each one is
// buffered with probability capacity/N, without knowing N in advance.
type ReservoirBuffer struct {
	capacity int
	entries  []StoredExample
	seen     int
}

// NewReservoirBuffer creates a reservoir holding at most capacity examples.
func NewReservoirBuffer(capacity int) *ReservoirBuffer {
	return &ReservoirBuffer{capacity: capacity}
}

// Update runs the classic reservoir step for each example of src.
func (r *ReservoirBuffer) Update(src benchmarks.Source, rng *rand.Rand) {
	for i := range src.Len() {
		r.seen++
		if len(r.entries) < r.capacity {
			r.entries = append(r.entries, StoredExample{Source: src, Index: i})
			continue
		}
		if j := rng.Intn(r.seen); j < r.capacity {
			r.entries[j] = StoredExample{Source: src, Index: i}
		}
	}
}

// Source returns the buffered examples as a benchmarks.Source.
func (r *ReservoirBuffer) Source() benchmarks.Source { return newEntriesSource(r.entries) }

// Len returns the number of buffered examples.
func (r *ReservoirBuffer) Len() int { return len(r.entries) }

// Capacity returns the buffer capacity.
func (r *ReservoirBuffer) Capacity() int { return r.capacity }

// String implements fmt.Stringer.
func (r *ReservoirBuffer) String() string {
	var dims []int
	if len(r.entries) > 0 {
		dims = r.entries[0].Source.InputDims()
	}
	return bufferString("ReservoirBuffer", len(r.entries), r.capacity, dims)
}

// ClassBalancedBuffer splits its capacity evenly among the classes seen so
// far: with C classes each gets capacity/C slots, the first capacity%C
// classes (in ascending class order) one extra. When a new experience
// brings new classes, previously stored classes shrink to their new quota
// by dropping random examples.
type ClassBalancedBuffer struct {
	capacity int
	byClass  map[int32][]StoredExample
}

// NewClassBalancedBuffer creates a class-balanced buffer holding at most
// capacity examples.
func NewClassBalancedBuffer(capacity int) *ClassBalancedBuffer {
	return &ClassBalancedBuffer{
		capacity: capacity,
		byClass:  make(map[int32][]StoredExample),
	}
}

// Update adds src's examples and rebalances the per-class quotas.
func (c *ClassBalancedBuffer) Update(src benchmarks.Source, rng *rand.Rand) {
	for i := range src.Len() {
		label := src.Label(i)
		c.byClass[label] = append(c.byClass[label], StoredExample{Source: src, Index: i})
	}

	classes := make([]int32, 0, len(c.byClass))
	for class := range c.byClass {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	if len(classes) == 0 {
		return
	}

	base := c.capacity / len(classes)
	extra := c.capacity % len(classes)
	for rank, class := range classes {
		quota := base
		if rank < extra {
			quota++
		}
		entries := c.byClass[class]
		for len(entries) > quota {
			j := rng.Intn(len(entries))
			entries[j] = entries[len(entries)-1]
			entries = entries[:len(entries)-1]
		}
		c.byClass[class] = entries
	}
}

// Source returns the buffered examples as a benchmarks.Source, grouped by
// class in ascending class order.
func (c *ClassBalancedBuffer) Source() benchmarks.Source {
	classes := make([]int32, 0, len(c.byClass))
	for class := range c.byClass {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	var entries []StoredExample
	for _, class := range classes {
		entries = append(entries, c.byClass[class]...)
	}
	return newEntriesSource(entries)
}

// Len returns the number of buffered examples.
func (c *ClassBalancedBuffer) Len() int {
	n := 0
	for _, entries := range c.byClass {
		n += len(entries)
	}
	return n
}

// Capacity returns the buffer capacity.
func (c *ClassBalancedBuffer) Capacity() int { return c.capacity }

// String implements fmt.Stringer.
func (c *ClassBalancedBuffer) String() string {
	var dims []int
	for _, entries := range c.byClass {
		if len(entries) > 0 {
			dims = entries[0].Source.InputDims()
			break
		}
	}
	return bufferString("ClassBalancedBuffer", c.Len(), c.capacity, dims)
}
