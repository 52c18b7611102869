// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"io"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/alexsosn/avalanche/benchmarks"
)

// EWCMode selects how Elastic Weight Consolidation combines the parameter
// importances of successive experiences.
type EWCMode string

const (
	// EWCSeparate keeps one importance estimate and one parameter
	// snapshot per trained experience, and sums one penalty term per
	// experience. Memory grows linearly with the number of experiences.
	EWCSeparate EWCMode = "separate"

	// EWCOnline keeps a single running importance estimate, decayed
	// before each new experience is folded in, and a single snapshot of
	// the latest parameters. Memory stays constant.
	EWCOnline EWCMode = "online"
)

// Scope under which EWC keeps its companion variables, mirroring the
// scope structure of the model variables they shadow.
const ewcScopeName = "ewc"

// EWCPlugin implements Elastic Weight Consolidation: after each
// experience it estimates how important every parameter was to that
// experience (the diagonal of the empirical Fisher information matrix,
// i.e. the mean squared gradient of the loss) and snapshots the
// parameters. On later experiences it adds a quadratic penalty
// lambda/2 * sum_i F_i * (theta_i - theta*_i)^2 to the training loss,
// anchoring important parameters near their consolidated values.
type EWCPlugin struct {
	PluginBase
	lambda float64
	mode   EWCMode
	decay  float64

	// Trainable model variables, captured while estimating the Fisher
	// information. Gradients returned by
	// Context.BuildTrainableVariablesGradientsGraph align with this
	// order.
	tracked []*context.Variable

	consolidated int
}

// EWCOption configures an EWCPlugin.
type EWCOption func(*EWCPlugin)

// WithEWCMode selects separate or online consolidation. Default separate.
func WithEWCMode(mode EWCMode) EWCOption {
	return func(e *EWCPlugin) { e.mode = mode }
}

// WithEWCDecay sets the importance decay of online mode. Default 1.0 (no
// decay). Ignored in separate mode.
func WithEWCDecay(decay float64) EWCOption {
	return func(e *EWCPlugin) { e.decay = decay }
}

// NewEWCPlugin creates an EWC plugin with the given penalty strength.
func NewEWCPlugin(lambda float64, opts ...EWCOption) *EWCPlugin {
	e := &EWCPlugin{
		lambda: lambda,
		mode:   EWCSeparate,
		decay:  1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Plugin.
func (e *EWCPlugin) Name() string { return "ewc" }

// Consolidated returns how many experiences have been consolidated into
// the penalty.
func (e *EWCPlugin) Consolidated() int { return e.consolidated }

// companion returns (creating on first use) a non-trainable variable
// shadowing v, with the given name suffix, under the "ewc" scope.
func (e *EWCPlugin) companion(ctx *context.Context, v *context.Variable, suffix string) *context.Variable {
	scoped := ctx.InAbsPath(context.ScopeSeparator + ewcScopeName + v.Scope())
	companion := scoped.WithInitializer(initializers.Zero).
		VariableWithShape(v.Name()+suffix, v.Shape())
	companion.SetTrainable(false)
	return companion
}

func (e *EWCPlugin) fisherSuffix(k int) string {
	if e.mode == EWCOnline {
		return "_ewc_fisher"
	}
	return fmt.Sprintf("_ewc_fisher_%d", k)
}

func (e *EWCPlugin) refSuffix(k int) string {
	if e.mode == EWCOnline {
		return "_ewc_ref"
	}
	return fmt.Sprintf("_ewc_ref_%d", k)
}

// AfterTrainingExp estimates the diagonal Fisher information over the
// just-trained experience and consolidates it, together with a snapshot
// of the current parameters, into the penalty.
func (e *EWCPlugin) AfterTrainingExp(b *Base, exp *benchmarks.Experience) error {
	ctx := b.Context()

	// Accumulates the squared loss gradients of one batch into the
	// "_ewc_acc" companions.
	accumulate := context.NewExec(b.Backend(), ctx,
		func(ctx *context.Context, inputs []*Node) *Node {
			g := inputs[0].Graph()
			predictions := b.ModelGraph(ctx, nil, inputs[:1])
			loss := b.LossGraph(inputs[1:], predictions)
			if !loss.Shape().IsScalar() {
				loss = ReduceAllMean(loss)
			}
			grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
			e.tracked = e.tracked[:0]
			ctx.EnumerateVariables(func(v *context.Variable) {
				if v.Trainable && v.InUseByGraph(g) {
					e.tracked = append(e.tracked, v)
				}
			})
			if len(grads) != len(e.tracked) {
				exceptions.Panicf("EWC: %d gradients for %d trainable variables", len(grads), len(e.tracked))
			}
			for i, v := range e.tracked {
				acc := e.companion(ctx, v, "_ewc_acc")
				acc.SetValueGraph(Add(acc.ValueGraph(g), Mul(grads[i], grads[i])))
			}
			return loss
		})

	ds := benchmarks.NewDataset(exp.Name(), exp.Source(), b.BatchSize())
	numBatches := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.WithMessagef(err, "EWC: reading experience %q", exp.Name())
		}
		err = exceptions.TryCatch[error](func() {
			accumulate.Call(inputs[0], labels[0])
		})
		if err != nil {
			return errors.WithMessagef(err, "EWC: estimating Fisher information on %q", exp.Name())
		}
		numBatches++
	}
	if numBatches == 0 {
		return errors.Errorf("EWC: experience %q yielded no batches", exp.Name())
	}

	// Normalizes the accumulators into this experience's Fisher
	// estimate, snapshots the parameters and resets the accumulators.
	k := e.consolidated
	finalize := context.NewExec(b.Backend(), ctx,
		func(ctx *context.Context, n *Node) *Node {
			g := n.Graph()
			for _, v := range e.tracked {
				acc := e.companion(ctx, v, "_ewc_acc")
				mean := Div(acc.ValueGraph(g), ConvertDType(n, acc.Shape().DType))
				fisher := e.companion(ctx, v, e.fisherSuffix(k))
				if e.mode == EWCOnline {
					fisher.SetValueGraph(Add(MulScalar(fisher.ValueGraph(g), e.decay), mean))
				} else {
					fisher.SetValueGraph(mean)
				}
				ref := e.companion(ctx, v, e.refSuffix(k))
				ref.SetValueGraph(v.ValueGraph(g))
				acc.SetValueGraph(Zeros(g, acc.Shape()))
			}
			return n
		})
	err := exceptions.TryCatch[error](func() {
		finalize.Call(float32(numBatches))
	})
	if err != nil {
		return errors.WithMessagef(err, "EWC: consolidating experience %q", exp.Name())
	}

	e.consolidated++
	klog.V(1).Infof("EWC: consolidated experience %q (%d batches, %d variables, mode=%s)",
		exp.Name(), numBatches, len(e.tracked), e.mode)
	return nil
}

// PenaltyGraph implements LossPenalizer, adding the quadratic
// consolidation penalty to the training loss. It is a no-op until the
// first experience has been consolidated.
func (e *EWCPlugin) PenaltyGraph(ctx *context.Context, g *Graph) *Node {
	if e.consolidated == 0 || len(e.tracked) == 0 {
		return nil
	}
	terms := e.consolidated
	if e.mode == EWCOnline {
		terms = 1
	}
	var penalty *Node
	for _, v := range e.tracked {
		for k := range terms {
			fisher := e.companion(ctx, v, e.fisherSuffix(k))
			ref := e.companion(ctx, v, e.refSuffix(k))
			diff := Sub(v.ValueGraph(g), ref.ValueGraph(g))
			term := ReduceAllSum(Mul(fisher.ValueGraph(g), Mul(diff, diff)))
			if penalty == nil {
				penalty = term
			} else {
				penalty = Add(penalty, term)
			}
		}
	}
	return MulScalar(penalty, e.lambda/2)
}
