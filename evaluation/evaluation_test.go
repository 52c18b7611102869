// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillCollector simulates 3 passes over a 3-experience split: each pass
// runs after one more experience is trained, accuracy of trained
// experiences decays on later passes (forgetting), untrained ones sit at
// chance level.
func fillCollector() *Collector {
	c := NewCollector()

	c.BeginEvalPass(1)
	c.RecordEval(0, "test[0]", 0.1, 0.95)
	c.RecordEval(1, "test[1]", 2.0, 0.10)
	c.RecordEval(2, "test[2]", 2.0, 0.10)

	c.BeginEvalPass(2)
	c.RecordEval(0, "test[0]", 1.0, 0.50)
	c.RecordEval(1, "test[1]", 0.1, 0.90)
	c.RecordEval(2, "test[2]", 2.0, 0.10)

	c.BeginEvalPass(3)
	c.RecordEval(0, "test[0]", 1.5, 0.40)
	c.RecordEval(1, "test[1]", 1.0, 0.60)
	c.RecordEval(2, "test[2]", 0.1, 0.92)

	return c
}

func TestCollectorMatrix(t *testing.T) {
	c := fillCollector()
	assert.Equal(t, 3, c.NumPasses())

	accuracy, ok := c.Accuracy(0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.95, accuracy)
	accuracy, ok = c.Accuracy(2, 1)
	require.True(t, ok)
	assert.Equal(t, 0.60, accuracy)
	_, ok = c.Accuracy(0, 7)
	assert.False(t, ok)

	results, trained := c.Pass(1)
	assert.Equal(t, 2, trained)
	require.Len(t, results, 3)
	assert.Equal(t, "test[1]", results[1].ExpName)
	assert.Equal(t, 0.90, results[1].Accuracy)
	assert.Equal(t, 0.1, results[1].Loss)
}

func TestCollectorAverages(t *testing.T) {
	c := fillCollector()
	assert.InDelta(t, (0.95+0.10+0.10)/3, c.AverageAccuracy(0), 1e-9)
	assert.InDelta(t, (0.40+0.60+0.92)/3, c.AverageAccuracy(2), 1e-9)
}

func TestForgetting(t *testing.T) {
	c := fillCollector()

	f, ok := c.Forgetting(0)
	require.True(t, ok)
	assert.InDelta(t, 0.95-0.40, f, 1e-9)

	f, ok = c.Forgetting(1)
	require.True(t, ok)
	assert.InDelta(t, 0.90-0.60, f, 1e-9)

	// Experience 2 peaked in the last pass: negative forgetting.
	f, ok = c.Forgetting(2)
	require.True(t, ok)
	assert.InDelta(t, 0.10-0.92, f, 1e-9)

	assert.InDelta(t, (0.55+0.30-0.82)/3, c.AverageForgetting(), 1e-9)
}

func TestForgettingNeedsTwoPasses(t *testing.T) {
	c := NewCollector()
	c.BeginEvalPass(1)
	c.RecordEval(0, "test[0]", 0.1, 0.9)
	_, ok := c.Forgetting(0)
	assert.False(t, ok)
	assert.Equal(t, 0.0, c.AverageForgetting())
}

func TestRecordEvalWithoutPassPanics(t *testing.T) {
	c := NewCollector()
	assert.Panics(t, func() { c.RecordEval(0, "x", 0, 0) })
}

func TestReport(t *testing.T) {
	c := fillCollector()
	report := Report(c)
	assert.Contains(t, report, "test[0]")
	assert.Contains(t, report, "test[2]")
	assert.Contains(t, report, "95.00%")
	assert.Contains(t, report, "1 experiences")
	assert.Contains(t, report, "3 experiences")
	assert.Contains(t, report, "average forgetting")
}

func TestReportEmpty(t *testing.T) {
	assert.Contains(t, Report(NewCollector()), "no evaluation results")
}

func TestReportSkipsMissingCells(t *testing.T) {
	c := NewCollector()
	c.BeginEvalPass(1)
	c.RecordEval(0, "test[0]", 0.1, 0.9)
	c.RecordEval(2, "test[2]", 0.1, 0.5)
	report := Report(c)
	assert.Contains(t, report, "exp 1") // Placeholder name for the gap.
	assert.Contains(t, report, "-")
}
