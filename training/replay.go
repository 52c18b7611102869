// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"k8s.io/klog/v2"

	"github.com/alexsosn/avalanche/benchmarks"
)

// ReplayPlugin rehearses past experiences: it keeps a bounded buffer of
// examples from already-trained experiences and concatenates it to the
// current experience's training data. A larger buffer mitigates more
// forgetting at a larger memory cost.
type ReplayPlugin struct {
	PluginBase
	policy StoragePolicy
}

// NewReplayPlugin creates a replay plugin over the given storage policy.
func NewReplayPlugin(policy StoragePolicy) *ReplayPlugin {
	return &ReplayPlugin{policy: policy}
}

// Name implements Plugin.
func (r *ReplayPlugin) Name() string { return "replay" }

// Policy returns the plugin's storage policy.
func (r *ReplayPlugin) Policy() StoragePolicy { return r.policy }

// AdaptTrainSource mixes the buffered examples into the training data. The
// buffer is empty for the first experience, which therefore trains on its
// own data only.
func (r *ReplayPlugin) AdaptTrainSource(b *Base, exp *benchmarks.Experience, src benchmarks.Source) (benchmarks.Source, error) {
	if r.policy.Len() == 0 {
		return src, nil
	}
	return benchmarks.Concat(src, r.policy.Source()), nil
}

// AfterTrainingExp folds the just-trained experience into the buffer.
func (r *ReplayPlugin) AfterTrainingExp(b *Base, exp *benchmarks.Experience) error {
	r.policy.Update(exp.Source(), b.RNG())
	klog.V(1).Infof("replay buffer after experience %q: %d/%d examples",
		exp.Name(), r.policy.Len(), r.policy.Capacity())
	return nil
}
