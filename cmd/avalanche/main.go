// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// avalanche runs a continual-learning experiment and reports the accuracy
// matrix of the resulting model.
//
//  1. With `avalanche --config exp.hcl`: runs the experiment defined in
//     the HCL file.
//  2. Without a config: runs the flags-defined experiment, by default
//     Naive on SplitMNIST with 5 experiences.
//  3. With `avalanche --download`: only downloads and unpacks the dataset.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/alexsosn/avalanche/benchmarks/mnist"
	"github.com/alexsosn/avalanche/evaluation"
	"github.com/alexsosn/avalanche/expconfig"
	"github.com/alexsosn/avalanche/training"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagConfig   = flag.String("config", "", "Experiment definition (HCL file). Overrides the experiment flags.")
	flagDownload = flag.Bool("download", false, "Only download and unpack the dataset.")

	flagBenchmark   = flag.String("benchmark", "split_mnist", "Benchmark: split_mnist or permuted_mnist.")
	flagExperiences = flag.Int("experiences", 5, "Number of experiences the benchmark is split into.")
	flagDataDir     = flag.String("data", "~/work/mnist", "Directory to cache the downloaded dataset.")
	flagModel       = flag.String("model", "mlp", "Model: linear, mlp or cnn.")
	flagStrategy    = flag.String("strategy", "naive", "Strategy: naive, cumulative, joint, replay or ewc.")
	flagEpochs      = flag.Int("epochs", 1, "Epochs trained per experience.")
	flagBatchSize   = flag.Int("batch_size", 128, "Training batch size.")
	flagBuffer      = flag.Int("buffer", 500, "Replay buffer capacity (replay strategy only).")
	flagLambda      = flag.Float64("lambda", 1.0, "Penalty strength (ewc strategy only).")
	flagSeed        = flag.Int64("seed", 42, "Random seed for class order, shuffling and sampling.")

	flagCheckpoint = flag.String("checkpoint", "", "Directory to save the model context to after each experience.")
	flagMasked     = flag.Bool("masked_accuracy", false, "Also report accuracy restricted to the classes seen so far.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		config := must.M1(loadConfig())
		if *flagDownload {
			must.M(mnist.Download(config.Benchmark.DataDir))
			klog.Infof("Data downloaded in %s", config.Benchmark.DataDir)
			return
		}
		must.M(run(config))
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		os.Exit(1)
	}
}

// loadConfig reads the HCL experiment or synthesizes one from the flags.
func loadConfig() (*expconfig.Config, error) {
	if *flagConfig != "" {
		return expconfig.Load(*flagConfig)
	}
	src := fmt.Sprintf(`
benchmark %q {
  experiences = %d
  data_dir    = %q
  seed        = %d
}

model %q {}

strategy %q {
  epochs     = %d
  batch_size = %d
  buffer     = %d
  lambda     = %g
  seed       = %d
}

eval {
  mask_seen_classes = %t
}
`, *flagBenchmark, *flagExperiences, *flagDataDir, *flagSeed,
		*flagModel,
		*flagStrategy, *flagEpochs, *flagBatchSize, *flagBuffer, *flagLambda, *flagSeed,
		*flagMasked)
	return expconfig.Parse("<flags>", []byte(src))
}

func run(config *expconfig.Config) error {
	// Run id correlates the log lines of concurrent experiment runs.
	runID := uuid.NewString()[:8]
	backend := backends.MustNew()
	klog.Infof("run %s: backend %s", runID, backend.Name())

	benchmark, err := config.BuildBenchmark()
	if err != nil {
		return err
	}
	ctx := config.BuildContext(benchmark.NumClasses)

	collector := evaluation.NewCollector()
	opts := []training.Option{
		training.WithEvaluator(collector),
		training.WithProgressBar(),
	}
	if *flagCheckpoint != "" {
		checkpoint := must.M1(checkpoints.Build(ctx).Dir(*flagCheckpoint).Done())
		opts = append(opts, training.WithCheckpoint(checkpoint))
	}

	var strategy training.Strategy
	if config.Eval.MaskSeenClasses {
		// The mask follows the strategy's growing set of seen classes;
		// the metric resolves it whenever an evaluation graph is built.
		masked := evaluation.NewMaskedSparseCategoricalAccuracy(
			"Masked Accuracy", "#macc", func() []int32 { return seenClasses(strategy) })
		opts = append(opts, training.WithExtraEvalMetrics(masked))
	}
	strategy, err = config.BuildStrategy(backend, ctx, opts...)
	if err != nil {
		return err
	}

	trainStream := benchmark.TrainStream()
	testStream := benchmark.TestStream()
	if config.Strategy.Name == expconfig.StrategyJoint {
		// Offline reference: one pass over everything, one evaluation.
		if err := strategy.TrainStream(trainStream); err != nil {
			return err
		}
		if _, err := strategy.EvalStream(testStream); err != nil {
			return err
		}
	} else {
		// The continual-learning loop: train one experience, evaluate on
		// the whole test stream, repeat.
		for _, exp := range trainStream.Experiences {
			klog.Infof("Training experience %q (classes %v)", exp.Name(), exp.Classes)
			if err := strategy.TrainExperience(exp); err != nil {
				return err
			}
			if _, err := strategy.EvalStream(testStream); err != nil {
				return err
			}
		}
	}

	fmt.Println()
	fmt.Print(evaluation.Report(collector))
	return nil
}

func seenClasses(strategy training.Strategy) []int32 {
	type seener interface{ SeenClasses() []int32 }
	if s, ok := strategy.(seener); ok {
		return s.SeenClasses()
	}
	return nil
}
