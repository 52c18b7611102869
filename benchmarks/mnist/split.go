// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/alexsosn/avalanche/benchmarks"
)

// SplitMNIST downloads MNIST into dataDir (if needed) and splits its 10
// digit classes into nExperiences class-incremental experiences. It is the
// classic entry-level continual-learning benchmark: with 5 experiences, each
// introduces 2 new digits.
func SplitMNIST(dataDir string, nExperiences int, opts ...benchmarks.ClassIncrementalOption) (*benchmarks.Benchmark, error) {
	if err := Download(dataDir); err != nil {
		return nil, err
	}
	trainImages, testImages, err := Load(dataDir)
	if err != nil {
		return nil, err
	}
	b, err := benchmarks.NewClassIncremental(trainImages, testImages, nExperiences, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "SplitMNIST")
	}
	return b, nil
}

// PermutedMNIST is the domain-incremental MNIST benchmark: every experience
// carries all 10 digits, but with its own fixed random permutation of the
// pixels, drawn from seed. Experiences carry their index as task label.
func PermutedMNIST(dataDir string, nExperiences int, seed int64) (*benchmarks.Benchmark, error) {
	if nExperiences < 1 {
		return nil, errors.Errorf("PermutedMNIST: nExperiences must be >= 1, got %d", nExperiences)
	}
	if err := Download(dataDir); err != nil {
		return nil, err
	}
	trainImages, testImages, err := Load(dataDir)
	if err != nil {
		return nil, err
	}

	allClasses := benchmarks.Classes(trainImages)
	rng := rand.New(rand.NewSource(seed))
	train := &benchmarks.Stream{Name: "train"}
	test := &benchmarks.Stream{Name: "test"}
	appendExp := func(stream *benchmarks.Stream, images *Images, k int, perm []int) {
		src := &permutedImages{images: images, perm: perm}
		indices := make([]int, src.Len())
		for i := range indices {
			indices[i] = i
		}
		exp := benchmarks.NewExperience(
			fmt.Sprintf("%s[%d]", stream.Name, k),
			k, k, allClasses, src, indices)
		stream.Experiences = append(stream.Experiences, exp)
	}
	for k := range nExperiences {
		perm := rng.Perm(Width * Height)
		appendExp(train, trainImages, k, perm)
		appendExp(test, testImages, k, perm)
	}
	return benchmarks.NewDomainIncremental(train, test, allClasses), nil
}

// permutedImages applies a fixed pixel permutation to an MNIST split.
type permutedImages struct {
	images *Images
	perm   []int
}

var _ benchmarks.Source = (*permutedImages)(nil)

func (p *permutedImages) Len() int          { return p.images.Len() }
func (p *permutedImages) Label(i int) int32 { return p.images.Label(i) }
func (p *permutedImages) InputDims() []int  { return p.images.InputDims() }

func (p *permutedImages) CopyInput(i int, dst []float32) {
	for j, from := range p.perm {
		dst[j] = float32(p.images.pixel(i, from)) / 255
	}
}
