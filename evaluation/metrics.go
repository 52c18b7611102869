// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/metrics"
)

// NewMaskedSparseCategoricalAccuracy returns an accuracy metric that only
// lets the model choose among the classes reported by seenClasses, by
// masking the logits of all other classes to -inf before the argmax.
//
// In class-incremental evaluation this separates "the model never saw
// class c" from "the model forgot class c": a naively fine-tuned model
// scores near zero on old experiences with the plain accuracy, but can
// still score well under the mask if its features survived.
//
// seenClasses is consulted when the evaluation graph is built, so the
// metric follows the growing set of classes across experiences.
func NewMaskedSparseCategoricalAccuracy(name, shortName string, seenClasses func() []int32) metrics.Interface {
	graphFn := func(ctx *context.Context, labels, predictions []*Node) *Node {
		logits := predictions[0]
		seen := seenClasses()
		if len(seen) > 0 {
			g := logits.Graph()
			numClasses := logits.Shape().Dimensions[logits.Rank()-1]
			maskFlat := make([]float32, numClasses)
			for i := range maskFlat {
				maskFlat[i] = float32(math.Inf(-1))
			}
			for _, c := range seen {
				if int(c) < numClasses {
					maskFlat[c] = 0
				}
			}
			mask := InsertAxes(Const(g, maskFlat), 0)
			logits = Add(logits, ConvertDType(mask, logits.DType()))
		}
		return metrics.SparseCategoricalAccuracyGraph(ctx, labels, []*Node{logits})
	}
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, graphFn, nil)
}
