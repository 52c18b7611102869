// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package benchmarks defines continual-learning benchmarks: ordered streams
// of experiences, each carrying its own subset of a labeled dataset.
//
// A Benchmark is built from a Source (any indexed, labeled collection of
// examples) by a scenario generator such as NewClassIncremental, which
// partitions the classes among experiences. The train and test streams are
// split with the same class groups, so experience k of the test stream
// evaluates exactly what experience k of the train stream taught.
package benchmarks

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Source is an indexed collection of labeled examples. Implementations keep
// the examples in memory (or memory-mapped) and materialize them on demand:
// CopyInput writes the flattened input of example i into dst, which has
// room for the product of InputDims() float32 values.
//
// Sources are read-only and must be safe for concurrent readers.
type Source interface {
	// Len returns the number of examples.
	Len() int

	// Label returns the class of example i.
	Label(i int) int32

	// InputDims returns the per-example input dimensions, e.g. [28, 28, 1].
	InputDims() []int

	// CopyInput writes the flattened input of example i into dst.
	CopyInput(i int, dst []float32)
}

// View returns a Source exposing only the examples of src at the given
// indices, re-indexed from 0. The indices slice is not copied.
func View(src Source, indices []int) Source {
	return &viewSource{src: src, indices: indices}
}

type viewSource struct {
	src     Source
	indices []int
}

func (v *viewSource) Len() int                       { return len(v.indices) }
func (v *viewSource) Label(i int) int32              { return v.src.Label(v.indices[i]) }
func (v *viewSource) InputDims() []int               { return v.src.InputDims() }
func (v *viewSource) CopyInput(i int, dst []float32) { v.src.CopyInput(v.indices[i], dst) }

// Concat returns a Source that chains the given sources in order. All parts
// must have the same InputDims.
func Concat(sources ...Source) Source {
	if len(sources) == 1 {
		return sources[0]
	}
	c := &concatSource{parts: sources, offsets: make([]int, len(sources))}
	total := 0
	for i, s := range sources {
		c.offsets[i] = total
		total += s.Len()
	}
	c.total = total
	return c
}

type concatSource struct {
	parts   []Source
	offsets []int
	total   int
}

func (c *concatSource) Len() int { return c.total }

// locate maps a global index to (part, local index).
func (c *concatSource) locate(i int) (Source, int) {
	p := sort.Search(len(c.offsets), func(k int) bool { return c.offsets[k] > i }) - 1
	return c.parts[p], i - c.offsets[p]
}

func (c *concatSource) Label(i int) int32 {
	s, j := c.locate(i)
	return s.Label(j)
}

func (c *concatSource) InputDims() []int { return c.parts[0].InputDims() }

func (c *concatSource) CopyInput(i int, dst []float32) {
	s, j := c.locate(i)
	s.CopyInput(j, dst)
}

// ClassIndices returns the indices of the examples of src whose label is in
// classes, in source order.
func ClassIndices(src Source, classes []int32) []int {
	inSet := make(map[int32]bool, len(classes))
	for _, c := range classes {
		inSet[c] = true
	}
	var indices []int
	for i := range src.Len() {
		if inSet[src.Label(i)] {
			indices = append(indices, i)
		}
	}
	return indices
}

// Classes returns the distinct labels present in src, sorted ascending.
func Classes(src Source) []int32 {
	seen := make(map[int32]bool)
	for i := range src.Len() {
		seen[src.Label(i)] = true
	}
	classes := make([]int32, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Experience is one task of a continual-learning stream: a subset of a
// Source restricted to the experience's classes, plus its task label.
type Experience struct {
	// Index of the experience in its stream, 0-based and dense.
	Index int

	// Task label. For single-task scenarios it is 0 for every experience;
	// for task-aware scenarios it equals Index.
	Task int

	// Classes present in this experience.
	Classes []int32

	name    string
	source  Source
	indices []int
}

// NewExperience creates an experience over the examples of src at indices.
// Most users obtain experiences from a scenario generator instead.
func NewExperience(name string, index, task int, classes []int32, src Source, indices []int) *Experience {
	return &Experience{
		Index:   index,
		Task:    task,
		Classes: classes,
		name:    name,
		source:  src,
		indices: indices,
	}
}

// Name identifies the experience, e.g. "train[2]".
func (e *Experience) Name() string { return e.name }

// Len returns the number of examples in the experience.
func (e *Experience) Len() int { return len(e.indices) }

// Source returns the experience's examples as a re-indexed Source.
func (e *Experience) Source() Source { return View(e.source, e.indices) }

// Dataset returns a fresh train.Dataset over the experience's examples.
// If rng is non-nil the examples are shuffled, and re-shuffled at each Reset.
func (e *Experience) Dataset(batchSize int, rng *rand.Rand) *Dataset {
	ds := NewDataset(e.name, e.Source(), batchSize)
	if rng != nil {
		ds.Shuffle(rng)
	}
	return ds
}

// Stream is an ordered list of experiences.
type Stream struct {
	// Name of the stream, "train" or "test".
	Name string

	// Experiences in stream order.
	Experiences []*Experience
}

// Len returns the number of experiences in the stream.
func (s *Stream) Len() int { return len(s.Experiences) }

// Benchmark holds matching train and test streams.
type Benchmark struct {
	train, test *Stream

	// NumClasses over the whole benchmark.
	NumClasses int

	// ClassOrder lists every class in the order it is introduced.
	ClassOrder []int32
}

// TrainStream returns the stream of training experiences.
func (b *Benchmark) TrainStream() *Stream { return b.train }

// TestStream returns the stream of test experiences, split with the same
// class groups as the train stream.
func (b *Benchmark) TestStream() *Stream { return b.test }

// NewDomainIncremental builds a Benchmark from ready-made streams where
// every experience carries the full class set and the input domain shifts
// instead (e.g. permuted pixels). Train and test must have the same length.
func NewDomainIncremental(train, test *Stream, classes []int32) *Benchmark {
	return &Benchmark{
		train:      train,
		test:       test,
		NumClasses: len(classes),
		ClassOrder: classes,
	}
}

// classIncrementalConfig collects the options of NewClassIncremental.
type classIncrementalConfig struct {
	classOrder []int32
	seed       int64
	shuffled   bool
	taskLabels bool
}

// ClassIncrementalOption configures NewClassIncremental.
type ClassIncrementalOption func(*classIncrementalConfig)

// WithClassOrder fixes the order in which classes are introduced. It must be
// a permutation of the classes present in the sources.
func WithClassOrder(order []int32) ClassIncrementalOption {
	return func(c *classIncrementalConfig) { c.classOrder = order }
}

// WithShuffledClasses shuffles the class order with the given seed.
func WithShuffledClasses(seed int64) ClassIncrementalOption {
	return func(c *classIncrementalConfig) { c.shuffled = true; c.seed = seed }
}

// WithTaskLabels makes each experience carry its index as task label,
// instead of the default task 0 everywhere.
func WithTaskLabels() ClassIncrementalOption {
	return func(c *classIncrementalConfig) { c.taskLabels = true }
}

// NewClassIncremental partitions the classes of trainSrc (and testSrc, with
// the same groups) into nExperiences contiguous groups, yielding a
// class-incremental benchmark. If the class count is not divisible by
// nExperiences, the last experience takes the remainder.
//
// With nExperiences == 1, the benchmark degenerates to joint training.
func NewClassIncremental(trainSrc, testSrc Source, nExperiences int, opts ...ClassIncrementalOption) (*Benchmark, error) {
	var config classIncrementalConfig
	for _, opt := range opts {
		opt(&config)
	}

	if nExperiences < 1 {
		return nil, errors.Errorf("NewClassIncremental: nExperiences must be >= 1, got %d", nExperiences)
	}
	classes := Classes(trainSrc)
	if len(classes) < nExperiences {
		return nil, errors.Errorf("NewClassIncremental: %d experiences requested, but only %d classes available",
			nExperiences, len(classes))
	}

	order := classes
	if config.classOrder != nil {
		if err := checkPermutation(classes, config.classOrder); err != nil {
			return nil, errors.WithMessage(err, "NewClassIncremental: invalid class order")
		}
		order = config.classOrder
	} else if config.shuffled {
		order = append([]int32(nil), classes...)
		rng := rand.New(rand.NewSource(config.seed))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	// Contiguous groups; the last takes the remainder.
	perExp := len(order) / nExperiences
	groups := make([][]int32, nExperiences)
	for k := range nExperiences {
		start := k * perExp
		end := start + perExp
		if k == nExperiences-1 {
			end = len(order)
		}
		groups[k] = order[start:end]
	}

	b := &Benchmark{
		NumClasses: len(classes),
		ClassOrder: order,
	}
	b.train = buildStream("train", trainSrc, groups, config.taskLabels)
	b.test = buildStream("test", testSrc, groups, config.taskLabels)
	return b, nil
}

func buildStream(name string, src Source, groups [][]int32, taskLabels bool) *Stream {
	stream := &Stream{Name: name}
	for k, group := range groups {
		task := 0
		if taskLabels {
			task = k
		}
		exp := NewExperience(
			fmt.Sprintf("%s[%d]", name, k),
			k, task, group, src, ClassIndices(src, group))
		stream.Experiences = append(stream.Experiences, exp)
	}
	return stream
}

func checkPermutation(classes, order []int32) error {
	if len(order) != len(classes) {
		return errors.Errorf("order has %d classes, sources have %d", len(order), len(classes))
	}
	seen := make(map[int32]bool, len(classes))
	for _, c := range classes {
		seen[c] = true
	}
	for _, c := range order {
		if !seen[c] {
			return errors.Errorf("class %d in order is not present in the sources", c)
		}
		delete(seen, c)
	}
	return nil
}
