// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package expconfig loads continual-learning experiment definitions from
// HCL files.
//
// An experiment file declares a benchmark, a model, a strategy and
// optionally how to evaluate:
//
//	benchmark "split_mnist" {
//	  experiences = 5
//	  data_dir    = "~/work/mnist"
//	  seed        = 42
//	}
//
//	model "mlp" {
//	  hidden_size = 512
//	}
//
//	strategy "replay" {
//	  epochs = 1
//	  buffer = 500
//	  policy = "class_balanced"
//	}
//
//	eval {
//	  batch_size = 1024
//	}
//
// Attribute expressions can reference the process environment as env
// (e.g. `data_dir = env.MNIST_DIR`) and user-defined variable blocks as
// var:
//
//	variable "buffer" {
//	  default = 500
//	}
//
//	strategy "replay" {
//	  buffer = var.buffer
//	}
package expconfig

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// Benchmark names accepted in a benchmark block.
const (
	BenchmarkSplitMNIST    = "split_mnist"
	BenchmarkPermutedMNIST = "permuted_mnist"
)

// Strategy names accepted in a strategy block.
const (
	StrategyNaive      = "naive"
	StrategyCumulative = "cumulative"
	StrategyJoint      = "joint"
	StrategyReplay     = "replay"
	StrategyEWC        = "ewc"
)

// Storage policy names accepted in strategy.policy.
const (
	PolicyReservoir     = "reservoir"
	PolicyClassBalanced = "class_balanced"
)

// Config is a fully decoded experiment file.
type Config struct {
	Benchmark *BenchmarkConfig `hcl:"benchmark,block"`
	Model     *ModelConfig     `hcl:"model,block"`
	Strategy  *StrategyConfig  `hcl:"strategy,block"`
	Eval      *EvalConfig      `hcl:"eval,block"`
}

// BenchmarkConfig selects and parameterizes the benchmark.
type BenchmarkConfig struct {
	Name        string  `hcl:"name,label"`
	Experiences int     `hcl:"experiences,optional"`
	DataDir     string  `hcl:"data_dir,optional"`
	Seed        *int64  `hcl:"seed,optional"`
	ClassOrder  []int32 `hcl:"class_order,optional"`
	TaskLabels  bool    `hcl:"task_labels,optional"`
}

// ModelConfig selects and parameterizes the model.
type ModelConfig struct {
	Name       string  `hcl:"name,label"`
	HiddenSize int     `hcl:"hidden_size,optional"`
	Dropout    float64 `hcl:"dropout,optional"`
}

// StrategyConfig selects and parameterizes the strategy.
type StrategyConfig struct {
	Name         string  `hcl:"name,label"`
	Epochs       int     `hcl:"epochs,optional"`
	BatchSize    int     `hcl:"batch_size,optional"`
	Optimizer    string  `hcl:"optimizer,optional"`
	LearningRate float64 `hcl:"learning_rate,optional"`
	Seed         *int64  `hcl:"seed,optional"`

	// Replay.
	Buffer int    `hcl:"buffer,optional"`
	Policy string `hcl:"policy,optional"`

	// EWC.
	Lambda float64 `hcl:"lambda,optional"`
	Mode   string  `hcl:"mode,optional"`
	Decay  float64 `hcl:"decay,optional"`
}

// EvalConfig parameterizes evaluation.
type EvalConfig struct {
	BatchSize       int  `hcl:"batch_size,optional"`
	MaskSeenClasses bool `hcl:"mask_seen_classes,optional"`
}

// Load reads, decodes and validates an experiment file.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading experiment file %q", path)
	}
	return Parse(path, src)
}

// variableBlock is a user-defined value, referenced in attribute
// expressions as `var.<name>`.
type variableBlock struct {
	Name    string    `hcl:"name,label"`
	Default cty.Value `hcl:"default,optional"`
}

// fileVariables is the first decoding pass: only the variable blocks,
// everything else deferred.
type fileVariables struct {
	Variables []*variableBlock `hcl:"variable,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

// Parse decodes and validates an experiment definition. filename is used
// in error messages only.
func Parse(filename string, src []byte) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parsing %q", filename)
	}

	// First pass: collect variable blocks, evaluated against env only.
	evalCtx := evalContext()
	var fileVars fileVariables
	diags = gohcl.DecodeBody(file.Body, evalCtx, &fileVars)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "decoding variables of %q", filename)
	}
	vars := make(map[string]cty.Value, len(fileVars.Variables))
	for _, v := range fileVars.Variables {
		if v.Default == cty.NilVal {
			return nil, errors.Errorf("variable %q in %q has no default value", v.Name, filename)
		}
		vars[v.Name] = v.Default
	}
	if len(vars) > 0 {
		evalCtx.Variables["var"] = cty.ObjectVal(vars)
	}

	config := &Config{}
	diags = gohcl.DecodeBody(fileVars.Remain, evalCtx, config)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "decoding %q", filename)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid experiment %q", filename)
	}
	return config, nil
}

// evalContext builds the expression evaluation context: env holds the
// process environment.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		if name, value, ok := strings.Cut(entry, "="); ok && name != "" {
			env[name] = cty.StringVal(value)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Benchmark != nil {
		if c.Benchmark.Experiences == 0 {
			c.Benchmark.Experiences = 5
		}
		if c.Benchmark.DataDir == "" {
			c.Benchmark.DataDir = "~/work/mnist"
		}
	}
	if c.Model == nil {
		c.Model = &ModelConfig{Name: "mlp"}
	}
	if c.Strategy != nil {
		if c.Strategy.Epochs == 0 {
			c.Strategy.Epochs = 1
		}
		if c.Strategy.BatchSize == 0 {
			c.Strategy.BatchSize = 128
		}
		if c.Strategy.Optimizer == "" {
			c.Strategy.Optimizer = "adamw"
		}
		if c.Strategy.LearningRate == 0 {
			c.Strategy.LearningRate = 1e-3
		}
		if c.Strategy.Name == StrategyReplay {
			if c.Strategy.Buffer == 0 {
				c.Strategy.Buffer = 500
			}
			if c.Strategy.Policy == "" {
				c.Strategy.Policy = PolicyClassBalanced
			}
		}
		if c.Strategy.Name == StrategyEWC {
			if c.Strategy.Lambda == 0 {
				c.Strategy.Lambda = 1.0
			}
			if c.Strategy.Mode == "" {
				c.Strategy.Mode = "separate"
			}
			if c.Strategy.Decay == 0 {
				c.Strategy.Decay = 1.0
			}
		}
	}
	if c.Eval == nil {
		c.Eval = &EvalConfig{}
	}
	if c.Eval.BatchSize == 0 {
		c.Eval.BatchSize = 512
	}
}

// Validate checks block presence, name labels and value ranges.
func (c *Config) Validate() error {
	if c.Benchmark == nil {
		return errors.New("missing benchmark block")
	}
	switch c.Benchmark.Name {
	case BenchmarkSplitMNIST, BenchmarkPermutedMNIST:
	default:
		return errors.Errorf("unknown benchmark %q", c.Benchmark.Name)
	}
	if c.Benchmark.Experiences < 1 {
		return errors.Errorf("benchmark.experiences must be >= 1, got %d", c.Benchmark.Experiences)
	}
	if c.Benchmark.Name == BenchmarkPermutedMNIST && len(c.Benchmark.ClassOrder) > 0 {
		return errors.New("benchmark.class_order only applies to split_mnist")
	}

	switch c.Model.Name {
	case "linear", "mlp", "cnn":
	default:
		return errors.Errorf("unknown model %q", c.Model.Name)
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return errors.Errorf("model.dropout must be in [0, 1), got %g", c.Model.Dropout)
	}

	if c.Strategy == nil {
		return errors.New("missing strategy block")
	}
	s := c.Strategy
	switch s.Name {
	case StrategyNaive, StrategyCumulative, StrategyJoint:
	case StrategyReplay:
		if s.Buffer < 1 {
			return errors.Errorf("strategy.buffer must be >= 1, got %d", s.Buffer)
		}
		switch s.Policy {
		case PolicyReservoir, PolicyClassBalanced:
		default:
			return errors.Errorf("unknown storage policy %q", s.Policy)
		}
	case StrategyEWC:
		if s.Lambda <= 0 {
			return errors.Errorf("strategy.lambda must be > 0, got %g", s.Lambda)
		}
		switch s.Mode {
		case "separate", "online":
		default:
			return errors.Errorf("unknown EWC mode %q", s.Mode)
		}
		if s.Decay <= 0 || s.Decay > 1 {
			return errors.Errorf("strategy.decay must be in (0, 1], got %g", s.Decay)
		}
	default:
		return errors.Errorf("unknown strategy %q", s.Name)
	}
	if s.Epochs < 1 {
		return errors.Errorf("strategy.epochs must be >= 1, got %d", s.Epochs)
	}
	if s.BatchSize < 1 {
		return errors.Errorf("strategy.batch_size must be >= 1, got %d", s.BatchSize)
	}
	if s.LearningRate <= 0 {
		return errors.Errorf("strategy.learning_rate must be > 0, got %g", s.LearningRate)
	}

	if c.Eval.BatchSize < 1 {
		return errors.Errorf("eval.batch_size must be >= 1, got %d", c.Eval.BatchSize)
	}
	return nil
}
