// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package models provides the small reference model graphs used by the
// continual-learning demos and tests: a linear classifier, a plain MLP and a
// small CNN. All of them return logits shaped [batch_size, num_classes].
//
// The number of output classes is read from the context hyperparameter
// "num_classes"; hidden sizes and dropout from the parameters listed below.
package models

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train"
)

const (
	// ParamNumClasses is the context hyperparameter with the number of
	// output classes. Default is 10.
	ParamNumClasses = "num_classes"

	// ParamHiddenSize is the context hyperparameter with the width of the
	// MLP hidden layer. Default is 512.
	ParamHiddenSize = "hidden_size"

	// ParamDropoutRate is the context hyperparameter with the dropout rate
	// used by the CNN. Default is 0, meaning no dropout.
	ParamDropoutRate = "dropout_rate"
)

// Linear builds a logistic-regression model: the flattened input through a
// single dense layer. The baseline of baselines.
func Linear(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model")
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 10)
	batchSize := inputs[0].Shape().Dimensions[0]
	embeddings := Reshape(inputs[0], batchSize, -1)
	logits := layers.DenseWithBias(ctx, embeddings, numClasses)
	return []*Node{logits}
}

// SimpleMLP builds a one-hidden-layer perceptron with ReLU, the model the
// tutorial trains on SplitMNIST.
func SimpleMLP(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model")
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 10)
	hiddenSize := context.GetParamOr(ctx, ParamHiddenSize, 512)
	batchSize := inputs[0].Shape().Dimensions[0]

	embeddings := Reshape(inputs[0], batchSize, -1)
	embeddings = layers.DenseWithBias(ctx.In("hidden"), embeddings, hiddenSize)
	embeddings = activations.Relu(embeddings)
	logits := layers.DenseWithBias(ctx.In("readout"), embeddings, numClasses)
	return []*Node{logits}
}

// SimpleCNN builds a two-convolution network for 2D image inputs shaped
// [batch, height, width, channels].
func SimpleCNN(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model")
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 10)
	dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.0)
	images := inputs[0]
	batchSize := images.Shape().Dimensions[0]
	g := images.Graph()

	var dropoutNode *Node
	if dropoutRate > 0 {
		dropoutNode = Scalar(g, images.DType(), dropoutRate)
	}

	images = layers.Convolution(ctx.In("conv0"), images).Filters(32).KernelSize(3).PadSame().Done()
	images = activations.Relu(images)
	images = MaxPool(images).Window(2).Done()

	images = layers.Convolution(ctx.In("conv1"), images).Filters(64).KernelSize(3).PadSame().Done()
	images = activations.Relu(images)
	images = MaxPool(images).Window(2).Done()
	if dropoutNode != nil {
		images = layers.DropoutNormalize(ctx.In("dropout"), images, dropoutNode, true)
	}

	embeddings := Reshape(images, batchSize, -1)
	logits := layers.DenseWithBias(ctx.In("readout"), embeddings, numClasses)
	return []*Node{logits}
}

// ByName maps the model names accepted in experiment configurations to
// their graph functions.
var ByName = map[string]train.ModelFn{
	"linear": Linear,
	"mlp":    SimpleMLP,
	"cnn":    SimpleCNN,
}
