// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package training implements continual-learning strategies on top of
// gomlx's training machinery.
//
// The centerpiece is Base, the strategy template: it owns the model context,
// builds a train.Trainer + train.Loop per experience, and dispatches a fixed
// set of plugin hooks around every phase. Pre-built strategies (Naive,
// Cumulative, JointTraining, Replay, EWC) are just the template with the
// right plugins attached; custom strategies either attach their own plugins
// or embed *Base and override its methods.
package training

import (
	"math/rand"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/alexsosn/avalanche/benchmarks"
	"github.com/alexsosn/avalanche/evaluation"
)

// Evaluator receives per-experience evaluation results. It is satisfied by
// *evaluation.Collector.
type Evaluator interface {
	// BeginEvalPass announces an evaluation pass, performed after
	// trainedExperiences experiences have been trained.
	BeginEvalPass(trainedExperiences int)

	// RecordEval reports the metrics of one evaluated experience.
	RecordEval(expIndex int, expName string, loss, accuracy float64)
}

// Base is the strategy template. The model context is shared across
// experiences: each experience keeps training the same weights, and the
// attached plugins decide what is done to mitigate the forgetting that
// follows.
//
// Base is not safe for concurrent use.
type Base struct {
	backend   backends.Backend
	ctx       *context.Context
	modelFn   train.ModelFn
	lossFn    losses.LossFn
	optimizer optimizers.Interface

	plugins    []Plugin
	penalizers []LossPenalizer
	evaluator  Evaluator
	checkpoint *checkpoints.Handler

	epochs        int
	batchSize     int
	evalBatchSize int
	rng           *rand.Rand
	progressBar   bool

	trainMetrics     []metrics.Interface
	evalMetrics      []metrics.Interface
	extraEvalMetrics []metrics.Interface

	trainedExps int
	seenClasses []int32

	// trainer and loop of the experience currently (or last) trained,
	// available to plugin hooks.
	trainer *train.Trainer
	loop    *train.Loop
}

// Option configures a Base strategy.
type Option func(*Base)

// WithPlugins attaches plugins to the strategy. Plugins run in attachment
// order; attaching the same plugin twice runs it twice.
func WithPlugins(plugins ...Plugin) Option {
	return func(b *Base) {
		for _, p := range plugins {
			b.plugins = append(b.plugins, p)
			if penalizer, ok := p.(LossPenalizer); ok {
				b.penalizers = append(b.penalizers, penalizer)
			}
		}
	}
}

// WithEpochs sets the number of epochs trained per experience. Default 1.
func WithEpochs(epochs int) Option {
	return func(b *Base) { b.epochs = epochs }
}

// WithBatchSize sets the training batch size. Default 128.
func WithBatchSize(batchSize int) Option {
	return func(b *Base) { b.batchSize = batchSize }
}

// WithEvalBatchSize sets the evaluation batch size, which can be larger
// than the training one. Default 512.
func WithEvalBatchSize(batchSize int) Option {
	return func(b *Base) { b.evalBatchSize = batchSize }
}

// WithSeed makes example shuffling and buffer sampling deterministic.
func WithSeed(seed int64) Option {
	return func(b *Base) { b.rng = rand.New(rand.NewSource(seed)) }
}

// WithEvaluator attaches a result collector, notified after every
// experience evaluation.
func WithEvaluator(ev Evaluator) Option {
	return func(b *Base) { b.evaluator = ev }
}

// WithProgressBar attaches a command-line progress bar to each
// experience's training loop.
func WithProgressBar() Option {
	return func(b *Base) { b.progressBar = true }
}

// WithCheckpoint saves the model context through the handler after every
// trained experience.
func WithCheckpoint(handler *checkpoints.Handler) Option {
	return func(b *Base) { b.checkpoint = handler }
}

// WithExtraEvalMetrics appends metrics to the default evaluation metrics
// (loss and accuracy are always included).
func WithExtraEvalMetrics(ms ...metrics.Interface) Option {
	return func(b *Base) { b.extraEvalMetrics = append(b.extraEvalMetrics, ms...) }
}

// New creates a strategy template from a model graph function, a loss and
// an optimizer.
func New(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	lossFn losses.LossFn, optimizer optimizers.Interface, opts ...Option) *Base {
	b := &Base{
		backend:       backend,
		ctx:           ctx,
		modelFn:       modelFn,
		lossFn:        lossFn,
		optimizer:     optimizer,
		epochs:        1,
		batchSize:     128,
		evalBatchSize: 512,
		rng:           rand.New(rand.NewSource(time.Now().UTC().UnixNano())),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.trainMetrics = []metrics.Interface{
		metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01),
	}
	b.evalMetrics = []metrics.Interface{
		metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc"),
	}
	b.evalMetrics = append(b.evalMetrics, b.extraEvalMetrics...)
	return b
}

// Context returns the model context shared across experiences.
func (b *Base) Context() *context.Context { return b.ctx }

// Backend returns the backend the strategy executes on.
func (b *Base) Backend() backends.Backend { return b.backend }

// RNG returns the strategy's random number generator.
func (b *Base) RNG() *rand.Rand { return b.rng }

// BatchSize returns the training batch size.
func (b *Base) BatchSize() int { return b.batchSize }

// Trainer returns the trainer of the experience currently (or last)
// trained, or nil before any training or evaluation happened.
func (b *Base) Trainer() *train.Trainer { return b.trainer }

// Loop returns the loop of the epoch currently being trained, a fresh
// one per epoch. It is only set between the BeforeTrainingEpoch and
// AfterTrainingEpoch hooks.
func (b *Base) Loop() *train.Loop { return b.loop }

// TrainedExperiences returns how many experiences have been trained.
func (b *Base) TrainedExperiences() int { return b.trainedExps }

// SeenClasses returns the union of the classes of all trained experiences,
// sorted ascending.
func (b *Base) SeenClasses() []int32 { return b.seenClasses }

// ModelGraph builds the user model's graph. Plugins that need a forward
// pass (e.g. to estimate parameter importance) use it instead of reaching
// for the model function directly.
func (b *Base) ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return b.modelFn(ctx, spec, inputs)
}

// LossGraph builds the user loss.
func (b *Base) LossGraph(labels, predictions []*Node) *Node {
	return b.lossFn(labels, predictions)
}

// TrainStream trains the strategy on every experience of the stream, in
// order. An empty stream is a no-op, but still fires the BeforeTraining and
// AfterTraining hooks.
func (b *Base) TrainStream(stream *benchmarks.Stream) error {
	if err := b.forEachPlugin("BeforeTraining", func(p Plugin) error { return p.BeforeTraining(b) }); err != nil {
		return err
	}
	for _, exp := range stream.Experiences {
		if err := b.trainExperience(exp); err != nil {
			return errors.WithMessagef(err, "training stream %q", stream.Name)
		}
	}
	return b.forEachPlugin("AfterTraining", func(p Plugin) error { return p.AfterTraining(b) })
}

// TrainExperience trains the strategy on a single experience, firing the
// same BeforeTraining/AfterTraining hooks a one-experience stream would.
func (b *Base) TrainExperience(exp *benchmarks.Experience) error {
	if err := b.forEachPlugin("BeforeTraining", func(p Plugin) error { return p.BeforeTraining(b) }); err != nil {
		return err
	}
	if err := b.trainExperience(exp); err != nil {
		return err
	}
	return b.forEachPlugin("AfterTraining", func(p Plugin) error { return p.AfterTraining(b) })
}

func (b *Base) trainExperience(exp *benchmarks.Experience) error {
	if err := b.forEachPlugin("BeforeTrainingExp", func(p Plugin) error { return p.BeforeTrainingExp(b, exp) }); err != nil {
		return err
	}

	src := exp.Source()
	for _, p := range b.plugins {
		adapter, ok := p.(TrainSourceAdapter)
		if !ok {
			continue
		}
		var err error
		src, err = adapter.AdaptTrainSource(b, exp, src)
		if err != nil {
			return errors.WithMessagef(err, "AdaptTrainSource(plugin %q)", p.Name())
		}
	}
	klog.V(1).Infof("training experience %q: %d examples (%d from the experience), classes %v",
		exp.Name(), src.Len(), exp.Len(), exp.Classes)

	ds := benchmarks.NewDataset(exp.Name(), src, b.batchSize).Shuffle(b.rng)
	b.trainer = b.newTrainer()
	defer func() { b.loop = nil }()

	for epoch := range b.epochs {
		// The loop fires its OnEnd hooks at the end of every run, and the
		// progress bar shuts down its display there, so each epoch gets a
		// fresh loop. The global step lives in the context and carries on.
		b.loop = train.NewLoop(b.trainer)
		if b.progressBar {
			evaluation.AttachProgressBar(b.loop)
		}
		if err := b.forEachPlugin("BeforeTrainingEpoch", func(p Plugin) error { return p.BeforeTrainingEpoch(b, epoch) }); err != nil {
			return err
		}
		var runErr error
		err := exceptions.TryCatch[error](func() {
			_, runErr = b.loop.RunEpochs(ds, 1)
		})
		if err == nil {
			err = runErr
		}
		if err != nil {
			return errors.WithMessagef(err, "experience %q, epoch %d", exp.Name(), epoch)
		}
		if err := b.forEachPlugin("AfterTrainingEpoch", func(p Plugin) error { return p.AfterTrainingEpoch(b, epoch) }); err != nil {
			return err
		}
	}

	b.trainedExps++
	for _, c := range exp.Classes {
		if !slices.Contains(b.seenClasses, c) {
			b.seenClasses = append(b.seenClasses, c)
		}
	}
	slices.Sort(b.seenClasses)

	if err := b.forEachPlugin("AfterTrainingExp", func(p Plugin) error { return p.AfterTrainingExp(b, exp) }); err != nil {
		return err
	}

	// Optimizer slots (e.g. Adam moments) are not carried to the next
	// experience; the global step is.
	b.optimizer.Clear(b.ctx)

	if b.checkpoint != nil {
		if err := b.checkpoint.Save(); err != nil {
			return errors.WithMessagef(err, "saving checkpoint after experience %q", exp.Name())
		}
	}
	return nil
}

// EvalStream evaluates the current model on every experience of the
// stream, reporting results to the attached Evaluator and returning the
// per-experience accuracies, indexed by experience.
func (b *Base) EvalStream(stream *benchmarks.Stream) ([]float64, error) {
	if err := b.forEachPlugin("BeforeEval", func(p Plugin) error { return p.BeforeEval(b) }); err != nil {
		return nil, err
	}
	if b.trainer == nil {
		// Evaluating before any training: build a trainer so the model
		// variables get initialized.
		b.trainer = b.newTrainer()
	}
	if b.evaluator != nil {
		b.evaluator.BeginEvalPass(b.trainedExps)
	}

	accuracies := make([]float64, 0, stream.Len())
	for _, exp := range stream.Experiences {
		if err := b.forEachPlugin("BeforeEvalExp", func(p Plugin) error { return p.BeforeEvalExp(b, exp) }); err != nil {
			return nil, err
		}
		ds := benchmarks.NewDataset(exp.Name(), exp.Source(), b.evalBatchSize)
		var values []*tensors.Tensor
		err := exceptions.TryCatch[error](func() {
			values = b.trainer.Eval(ds)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating experience %q", exp.Name())
		}
		loss, accuracy := b.extractEvalMetrics(values)
		accuracies = append(accuracies, accuracy)
		if b.evaluator != nil {
			b.evaluator.RecordEval(exp.Index, exp.Name(), loss, accuracy)
		}
		if err := b.forEachPlugin("AfterEvalExp", func(p Plugin) error { return p.AfterEvalExp(b, exp, values) }); err != nil {
			return nil, err
		}
	}
	if err := b.forEachPlugin("AfterEval", func(p Plugin) error { return p.AfterEval(b) }); err != nil {
		return nil, err
	}
	return accuracies, nil
}

// EvalMetrics returns the evaluation metrics of the strategy's trainer,
// aligned with the values passed to AfterEvalExp hooks.
func (b *Base) EvalMetrics() []metrics.Interface {
	if b.trainer == nil {
		return nil
	}
	return b.trainer.EvalMetrics()
}

// extractEvalMetrics picks the loss and accuracy out of the metric values
// returned by Trainer.Eval, matching by metric type. The first metric of
// each type wins, so extra accuracy-typed metrics (like the masked
// accuracy) don't displace the plain one.
func (b *Base) extractEvalMetrics(values []*tensors.Tensor) (loss, accuracy float64) {
	var lossSet, accuracySet bool
	for i, m := range b.trainer.EvalMetrics() {
		if i >= len(values) {
			break
		}
		switch m.MetricType() {
		case metrics.LossMetricType:
			if !lossSet {
				loss = metricValue(values[i])
				lossSet = true
			}
		case metrics.AccuracyMetricType:
			if !accuracySet {
				accuracy = metricValue(values[i])
				accuracySet = true
			}
		}
	}
	return
}

func metricValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// newTrainer builds a fresh trainer over the shared context: new metric
// state and a model function wrapped to collect plugin loss penalties.
func (b *Base) newTrainer() *train.Trainer {
	modelFn := b.modelFn
	if len(b.penalizers) > 0 {
		modelFn = func(ctx *context.Context, spec any, inputs []*Node) []*Node {
			predictions := b.modelFn(ctx, spec, inputs)
			g := predictions[0].Graph()
			for _, penalizer := range b.penalizers {
				if penalty := penalizer.PenaltyGraph(ctx, g); penalty != nil {
					train.AddLoss(ctx, penalty)
				}
			}
			return predictions
		}
	}
	return train.NewTrainer(b.backend, b.ctx, modelFn, b.lossFn, b.optimizer,
		b.trainMetrics, b.evalMetrics)
}
