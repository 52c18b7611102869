// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsosn/avalanche/benchmarks"
)

func newExperience(t *testing.T, n, numClasses int) *benchmarks.Experience {
	t.Helper()
	src := rampSource{n: n, numClasses: numClasses}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	classes := make([]int32, numClasses)
	for i := range classes {
		classes[i] = int32(i)
	}
	return benchmarks.NewExperience("test", 0, 0, classes, src, indices)
}

func testBase(plugins ...Plugin) *Base {
	b := &Base{rng: rand.New(rand.NewSource(11)), batchSize: 8}
	WithPlugins(plugins...)(b)
	return b
}

func TestReplayPluginAdaptsSource(t *testing.T) {
	plugin := NewReplayPlugin(NewReservoirBuffer(5))
	b := testBase(plugin)
	exp := newExperience(t, 20, 4)

	// Empty buffer: the source passes through untouched.
	src, err := plugin.AdaptTrainSource(b, exp, exp.Source())
	require.NoError(t, err)
	assert.Equal(t, 20, src.Len())

	require.NoError(t, plugin.AfterTrainingExp(b, exp))
	assert.Equal(t, 5, plugin.Policy().Len())

	// Non-empty buffer: the adapted source is the concatenation.
	src, err = plugin.AdaptTrainSource(b, exp, exp.Source())
	require.NoError(t, err)
	assert.Equal(t, 25, src.Len())
}

func TestCumulativePluginAccumulates(t *testing.T) {
	plugin := &cumulativePlugin{}
	b := testBase(plugin)
	exp1 := newExperience(t, 10, 2)
	exp2 := newExperience(t, 6, 2)

	src, err := plugin.AdaptTrainSource(b, exp1, exp1.Source())
	require.NoError(t, err)
	assert.Equal(t, 10, src.Len())
	require.NoError(t, plugin.AfterTrainingExp(b, exp1))

	src, err = plugin.AdaptTrainSource(b, exp2, exp2.Source())
	require.NoError(t, err)
	assert.Equal(t, 16, src.Len())
	require.NoError(t, plugin.AfterTrainingExp(b, exp2))

	src, err = plugin.AdaptTrainSource(b, exp2, exp2.Source())
	require.NoError(t, err)
	assert.Equal(t, 22, src.Len())
}

func TestMergeExperiences(t *testing.T) {
	exps := []*benchmarks.Experience{
		newExperience(t, 10, 2),
		newExperience(t, 5, 3),
	}
	merged := mergeExperiences("joint", exps)
	assert.Equal(t, 15, merged.Len())
	assert.Equal(t, []int32{0, 1, 2}, merged.Classes)
	assert.Equal(t, "joint", merged.Name())
}

// hookRecorder records the order of the stream-level hooks it receives.
type hookRecorder struct {
	PluginBase
	calls []string
}

func (r *hookRecorder) Name() string { return "recorder" }

func (r *hookRecorder) BeforeTraining(*Base) error {
	r.calls = append(r.calls, "BeforeTraining")
	return nil
}

func (r *hookRecorder) AfterTraining(*Base) error {
	r.calls = append(r.calls, "AfterTraining")
	return nil
}

func TestTrainStreamEmptyStream(t *testing.T) {
	// An empty stream still brackets the run with the training hooks, and
	// never builds a trainer.
	recorder := &hookRecorder{}
	b := testBase(recorder)
	require.NoError(t, b.TrainStream(&benchmarks.Stream{Name: "empty"}))
	assert.Equal(t, []string{"BeforeTraining", "AfterTraining"}, recorder.calls)
	assert.Nil(t, b.Trainer())
	assert.Equal(t, 0, b.TrainedExperiences())
}

func TestPluginAttachedTwiceRunsTwice(t *testing.T) {
	// Attaching the same plugin twice is not deduplicated: every hook
	// fires once per registration.
	recorder := &hookRecorder{}
	b := testBase(recorder, recorder)
	require.NoError(t, b.TrainStream(&benchmarks.Stream{Name: "empty"}))
	assert.Equal(t, []string{
		"BeforeTraining", "BeforeTraining",
		"AfterTraining", "AfterTraining",
	}, recorder.calls)
}

// failingPlugin errors from a single named hook, to exercise dispatch
// error wrapping.
type failingPlugin struct {
	PluginBase
}

func (failingPlugin) Name() string { return "failing" }

func (failingPlugin) BeforeTrainingExp(b *Base, exp *benchmarks.Experience) error {
	return errors.New("boom")
}

func TestPluginErrorsAreWrapped(t *testing.T) {
	b := testBase(failingPlugin{})
	err := b.forEachPlugin("BeforeTrainingExp", func(p Plugin) error {
		return p.BeforeTrainingExp(b, nil)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "BeforeTrainingExp")
	assert.Contains(t, err.Error(), "boom")
}

func TestWithPluginsRegistersPenalizers(t *testing.T) {
	ewc := NewEWCPlugin(0.4)
	replay := NewReplayPlugin(NewReservoirBuffer(10))
	b := testBase(replay, ewc)
	assert.Len(t, b.plugins, 2)
	require.Len(t, b.penalizers, 1)
	assert.Equal(t, LossPenalizer(ewc), b.penalizers[0])
}

func TestEWCModes(t *testing.T) {
	separate := NewEWCPlugin(1.0)
	assert.Equal(t, "_ewc_fisher_0", separate.fisherSuffix(0))
	assert.Equal(t, "_ewc_ref_2", separate.refSuffix(2))

	online := NewEWCPlugin(1.0, WithEWCMode(EWCOnline), WithEWCDecay(0.9))
	assert.Equal(t, "_ewc_fisher", online.fisherSuffix(0))
	assert.Equal(t, "_ewc_fisher", online.fisherSuffix(3))
	assert.Equal(t, 0.9, online.decay)
}

func TestEWCPenaltyNilBeforeConsolidation(t *testing.T) {
	ewc := NewEWCPlugin(1.0)
	assert.Nil(t, ewc.PenaltyGraph(nil, nil))
}
