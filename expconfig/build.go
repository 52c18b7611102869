// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package expconfig

import (
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/pkg/errors"

	"github.com/alexsosn/avalanche/benchmarks"
	"github.com/alexsosn/avalanche/benchmarks/mnist"
	"github.com/alexsosn/avalanche/models"
	"github.com/alexsosn/avalanche/training"
)

// BuildBenchmark downloads (if needed) and assembles the configured
// benchmark.
func (c *Config) BuildBenchmark() (*benchmarks.Benchmark, error) {
	bc := c.Benchmark
	switch bc.Name {
	case BenchmarkSplitMNIST:
		var opts []benchmarks.ClassIncrementalOption
		if len(bc.ClassOrder) > 0 {
			opts = append(opts, benchmarks.WithClassOrder(bc.ClassOrder))
		} else if bc.Seed != nil {
			opts = append(opts, benchmarks.WithShuffledClasses(*bc.Seed))
		}
		if bc.TaskLabels {
			opts = append(opts, benchmarks.WithTaskLabels())
		}
		return mnist.SplitMNIST(bc.DataDir, bc.Experiences, opts...)
	case BenchmarkPermutedMNIST:
		seed := int64(0)
		if bc.Seed != nil {
			seed = *bc.Seed
		}
		return mnist.PermutedMNIST(bc.DataDir, bc.Experiences, seed)
	}
	return nil, errors.Errorf("unknown benchmark %q", bc.Name)
}

// BuildContext creates a model context with the hyperparameters of the
// model and strategy blocks set as context parameters.
func (c *Config) BuildContext(numClasses int) *context.Context {
	ctx := context.New()
	params := map[string]any{
		models.ParamNumClasses:       numClasses,
		optimizers.ParamOptimizer:    c.Strategy.Optimizer,
		optimizers.ParamLearningRate: c.Strategy.LearningRate,
	}
	if c.Model.HiddenSize > 0 {
		params[models.ParamHiddenSize] = c.Model.HiddenSize
	}
	if c.Model.Dropout > 0 {
		params[models.ParamDropoutRate] = c.Model.Dropout
	}
	ctx.SetParams(params)
	return ctx
}

// BuildModel returns the configured model graph function.
func (c *Config) BuildModel() (train.ModelFn, error) {
	modelFn, ok := models.ByName[c.Model.Name]
	if !ok {
		return nil, errors.Errorf("unknown model %q", c.Model.Name)
	}
	return modelFn, nil
}

// BuildStrategy assembles the configured strategy around the given
// context. Extra options (e.g. an evaluator or a progress bar) are
// appended to the configured ones.
func (c *Config) BuildStrategy(backend backends.Backend, ctx *context.Context,
	extra ...training.Option) (training.Strategy, error) {
	modelFn, err := c.BuildModel()
	if err != nil {
		return nil, err
	}
	lossFn := losses.SparseCategoricalCrossEntropyLogits
	optimizer := optimizers.FromContext(ctx)

	s := c.Strategy
	opts := []training.Option{
		training.WithEpochs(s.Epochs),
		training.WithBatchSize(s.BatchSize),
		training.WithEvalBatchSize(c.Eval.BatchSize),
	}
	if s.Seed != nil {
		opts = append(opts, training.WithSeed(*s.Seed))
	} else {
		opts = append(opts, training.WithSeed(time.Now().UTC().UnixNano()))
	}
	opts = append(opts, extra...)

	switch s.Name {
	case StrategyNaive:
		return training.Naive(backend, ctx, modelFn, lossFn, optimizer, opts...), nil
	case StrategyCumulative:
		return training.Cumulative(backend, ctx, modelFn, lossFn, optimizer, opts...), nil
	case StrategyJoint:
		return training.JointTraining(backend, ctx, modelFn, lossFn, optimizer, opts...), nil
	case StrategyReplay:
		policy, err := c.buildPolicy()
		if err != nil {
			return nil, err
		}
		return training.Replay(backend, ctx, modelFn, lossFn, optimizer, policy, opts...), nil
	case StrategyEWC:
		ewcOpts := []training.EWCOption{
			training.WithEWCMode(training.EWCMode(s.Mode)),
			training.WithEWCDecay(s.Decay),
		}
		opts = append(opts, training.WithPlugins(training.NewEWCPlugin(s.Lambda, ewcOpts...)))
		return training.New(backend, ctx, modelFn, lossFn, optimizer, opts...), nil
	}
	return nil, errors.Errorf("unknown strategy %q", s.Name)
}

func (c *Config) buildPolicy() (training.StoragePolicy, error) {
	switch c.Strategy.Policy {
	case PolicyReservoir:
		return training.NewReservoirBuffer(c.Strategy.Buffer), nil
	case PolicyClassBalanced:
		return training.NewClassBalancedBuffer(c.Strategy.Buffer), nil
	}
	return nil, errors.Errorf("unknown storage policy %q", c.Strategy.Policy)
}
