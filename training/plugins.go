// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"

	"github.com/alexsosn/avalanche/benchmarks"
)

// Plugin augments a strategy's training and evaluation loops through a fixed
// set of named callback hooks, without modifying the template itself. The
// hooks are invoked in attachment order; an error from any hook aborts the
// run and is returned wrapped with the plugin and hook names.
//
// Embed PluginBase to implement only the hooks of interest.
type Plugin interface {
	// Name identifies the plugin in logs and error messages.
	Name() string

	// BeforeTraining runs once at the start of a Train call.
	BeforeTraining(b *Base) error

	// BeforeTrainingExp runs before each experience is trained.
	BeforeTrainingExp(b *Base, exp *benchmarks.Experience) error

	// BeforeTrainingEpoch runs before each epoch of the current experience.
	BeforeTrainingEpoch(b *Base, epoch int) error

	// AfterTrainingEpoch runs after each epoch of the current experience.
	AfterTrainingEpoch(b *Base, epoch int) error

	// AfterTrainingExp runs after an experience has been fully trained.
	AfterTrainingExp(b *Base, exp *benchmarks.Experience) error

	// AfterTraining runs once at the end of a Train call.
	AfterTraining(b *Base) error

	// BeforeEval runs once at the start of an EvalStream call.
	BeforeEval(b *Base) error

	// BeforeEvalExp runs before each experience is evaluated.
	BeforeEvalExp(b *Base, exp *benchmarks.Experience) error

	// AfterEvalExp runs after each experience evaluation, with the metric
	// values returned by the trainer, aligned with Base.EvalMetrics.
	AfterEvalExp(b *Base, exp *benchmarks.Experience, metricValues []*tensors.Tensor) error

	// AfterEval runs once at the end of an EvalStream call.
	AfterEval(b *Base) error
}

// TrainSourceAdapter is an optional plugin capability: it may replace (or
// extend) the examples an experience is trained on. This is how Replay
// injects its buffer and Cumulative its accumulated experiences. Adapters
// run in plugin attachment order, each seeing the previous one's output.
type TrainSourceAdapter interface {
	AdaptTrainSource(b *Base, exp *benchmarks.Experience, src benchmarks.Source) (benchmarks.Source, error)
}

// LossPenalizer is an optional plugin capability: it may contribute a
// scalar penalty added to the training loss at graph building time. This is
// how EWC injects its quadratic regularizer. Returning nil contributes
// nothing.
type LossPenalizer interface {
	PenaltyGraph(ctx *context.Context, g *graph.Graph) *graph.Node
}

// PluginBase provides no-op implementations for every hook except Name.
type PluginBase struct{}

func (PluginBase) BeforeTraining(*Base) error                            { return nil }
func (PluginBase) BeforeTrainingExp(*Base, *benchmarks.Experience) error { return nil }
func (PluginBase) BeforeTrainingEpoch(*Base, int) error                  { return nil }
func (PluginBase) AfterTrainingEpoch(*Base, int) error                   { return nil }
func (PluginBase) AfterTrainingExp(*Base, *benchmarks.Experience) error  { return nil }
func (PluginBase) AfterTraining(*Base) error                             { return nil }
func (PluginBase) BeforeEval(*Base) error                                { return nil }
func (PluginBase) BeforeEvalExp(*Base, *benchmarks.Experience) error     { return nil }
func (PluginBase) AfterEvalExp(*Base, *benchmarks.Experience, []*tensors.Tensor) error {
	return nil
}
func (PluginBase) AfterEval(*Base) error { return nil }

// forEachPlugin invokes fn for every attached plugin in order, stopping at
// the first error, which is wrapped with the plugin and hook names.
func (b *Base) forEachPlugin(hook string, fn func(Plugin) error) error {
	for _, p := range b.plugins {
		if err := fn(p); err != nil {
			return errors.WithMessagef(err, "%s(plugin %q)", hook, p.Name())
		}
	}
	return nil
}
