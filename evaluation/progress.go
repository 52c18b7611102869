// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressBarName identifies the progress bar hooks attached to a
// train.Loop.
const ProgressBarName = "avalanche.evaluation.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
)

// maxUpdateFrequency is the time between updates of the stats display.
const maxUpdateFrequency = 200 * time.Millisecond

type progressBarUpdate struct {
	amount  int
	metrics []string
}

// progressBar displays the training progression of one experience, with a
// live table of the training metrics.
type progressBar struct {
	numSteps         int
	lastStepReported int
	totalAmount      int
	bar              *progressbar.ProgressBar

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	closed           bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup
}

func (pBar *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	pBar.lastStepReported = loop.LoopStep
	var stepsMsg string
	if loop.EndStep < 0 {
		pBar.numSteps = 1000 // Guess for now.
	} else {
		pBar.numSteps = loop.EndStep - loop.StartStep
		stepsMsg = fmt.Sprintf(" (%d steps)", pBar.numSteps)
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription(fmt.Sprintf("Training%s: ", stepsMsg)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return nil
}

func (pBar *progressBar) onStep(loop *train.Loop, metrics []*tensors.Tensor) error {
	if pBar.closed || pBar.bar.IsFinished() {
		return nil
	}

	// +1 because the current LoopStep is finished.
	amount := loop.LoopStep + 1 - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}

	trainMetrics := loop.Trainer.TrainMetrics()
	update := progressBarUpdate{
		amount:  amount,
		metrics: make([]string, 0, len(trainMetrics)+1),
	}
	update.metrics = append(update.metrics, fmt.Sprintf("%d / %d", loop.LoopStep, loop.EndStep))
	for metricIdx, metricObj := range trainMetrics {
		update.metrics = append(update.metrics, metricObj.PrettyPrint(metrics[metricIdx]))
	}
	pBar.updates <- update

	pBar.totalAmount += amount
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ []*tensors.Tensor) error {
	if pBar.closed {
		return nil
	}
	pBar.closed = true
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	fmt.Println()
	return nil
}

// AttachProgressBar attaches a command-line progress bar to the Loop:
// every time the Loop runs it displays the progression and the live
// training metrics of the experience being trained.
func AttachProgressBar(loop *train.Loop) {
	pBar := &progressBar{
		isFirstOutput: true,
		termenv:       termenv.NewOutput(os.Stdout),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		statsTable: lgtable.New().
			Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			}),
		// Large buffer so training is not blocked on the terminal.
		updates: make(chan progressBarUpdate, 100),
	}
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		// Draw asynchronously: training can be faster than the terminal,
		// in particular over a slow network connection.
		for update := range pBar.updates {
			// Exhaust the updates in buffer:
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}

			// Clear the previous lines that will be overwritten.
			if !pBar.isFirstOutput {
				pBar.termenv.ClearLines(len(update.metrics) + 1 + 2)
			}
			pBar.isFirstOutput = false

			_ = pBar.bar.Add(amount) // Prints the progress bar line.
			pBar.statsTable.Data(lgtable.NewStringData())
			fmt.Println()
			pBar.statsTable.Row("Global Step", update.metrics[0])
			for metricIdx, metricObj := range loop.Trainer.TrainMetrics() {
				pBar.statsTable.Row(metricObj.Name(), update.metrics[1+metricIdx])
			}
			fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
			time.Sleep(maxUpdateFrequency)
		}
		pBar.asyncUpdatesDone.Done()
	}()

	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Update at most 1000 times during the loop, and at least every 3 seconds.
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, 3*time.Second, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
