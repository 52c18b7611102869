// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"slices"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"

	"github.com/alexsosn/avalanche/benchmarks"
)

// Strategy is the surface benchmark runners program against. *Base
// satisfies it, and so do types embedding *Base with overrides, like
// Joint.
type Strategy interface {
	TrainStream(stream *benchmarks.Stream) error
	TrainExperience(exp *benchmarks.Experience) error
	EvalStream(stream *benchmarks.Stream) ([]float64, error)
}

var (
	_ Strategy = (*Base)(nil)
	_ Strategy = (*Joint)(nil)
)

// Naive fine-tunes the model on each experience in turn, with no
// mitigation of forgetting. It is the lower-bound baseline of continual
// learning: on class-incremental benchmarks it forgets old classes almost
// completely.
func Naive(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, opts ...Option) *Base {
	return New(backend, ctx, modelFn, lossFn, optimizer, opts...)
}

// cumulativePlugin re-trains on the union of all experiences seen so far.
type cumulativePlugin struct {
	PluginBase
	past []benchmarks.Source
}

func (c *cumulativePlugin) Name() string { return "cumulative" }

func (c *cumulativePlugin) AdaptTrainSource(b *Base, exp *benchmarks.Experience, src benchmarks.Source) (benchmarks.Source, error) {
	if len(c.past) == 0 {
		return src, nil
	}
	sources := append([]benchmarks.Source{src}, c.past...)
	return benchmarks.Concat(sources...), nil
}

func (c *cumulativePlugin) AfterTrainingExp(b *Base, exp *benchmarks.Experience) error {
	c.past = append(c.past, exp.Source())
	return nil
}

// Cumulative trains each experience on the union of its data and all
// previous experiences' data. It is the upper-bound baseline: no
// forgetting, at the cost of keeping and re-visiting everything.
func Cumulative(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, opts ...Option) *Base {
	opts = append(opts, WithPlugins(&cumulativePlugin{}))
	return New(backend, ctx, modelFn, lossFn, optimizer, opts...)
}

// Replay rehearses a bounded buffer of past examples alongside each new
// experience, using the given storage policy to decide what to keep.
func Replay(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, policy StoragePolicy, opts ...Option) *Base {
	opts = append(opts, WithPlugins(NewReplayPlugin(policy)))
	return New(backend, ctx, modelFn, lossFn, optimizer, opts...)
}

// EWC penalizes movement of parameters that were important to past
// experiences, per Kirkpatrick et al., "Overcoming catastrophic
// forgetting in neural networks".
func EWC(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, lambda float64, opts ...Option) *Base {
	opts = append(opts, WithPlugins(NewEWCPlugin(lambda)))
	return New(backend, ctx, modelFn, lossFn, optimizer, opts...)
}

// Joint trains on the whole stream at once, as ordinary offline learning
// would. It is not a continual strategy, but an upper reference for what
// the model could reach with all data available upfront.
//
// It is also the worked example of customizing by embedding: it overrides
// the template's TrainStream while inheriting everything else.
type Joint struct {
	*Base
}

// JointTraining creates a joint (offline) training strategy.
func JointTraining(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, opts ...Option) *Joint {
	return &Joint{Base: New(backend, ctx, modelFn, lossFn, optimizer, opts...)}
}

// TrainStream merges the stream's experiences into one and trains on it
// in a single pass.
func (j *Joint) TrainStream(stream *benchmarks.Stream) error {
	if stream.Len() == 0 {
		return j.Base.TrainStream(stream)
	}
	merged := mergeExperiences(stream.Name, stream.Experiences)
	return j.Base.TrainExperience(merged)
}

// mergeExperiences concatenates experiences into a single one covering
// all their examples and classes.
func mergeExperiences(name string, exps []*benchmarks.Experience) *benchmarks.Experience {
	sources := make([]benchmarks.Source, 0, len(exps))
	var classes []int32
	for _, exp := range exps {
		sources = append(sources, exp.Source())
		for _, c := range exp.Classes {
			if !slices.Contains(classes, c) {
				classes = append(classes, c)
			}
		}
	}
	slices.Sort(classes)
	src := benchmarks.Concat(sources...)
	indices := make([]int, src.Len())
	for i := range indices {
		indices[i] = i
	}
	return benchmarks.NewExperience(name, 0, 0, classes, src, indices)
}
