package trainer

import (
	"fmt"

	"digitsketch/internal/dataset"
)

// BatchResult is the outcome of one mini-batch: either processed or skipped
// with a reason. Failed lists samples dropped while loading, in both cases.
type BatchResult struct {
	Index   int
	Count   int
	Loss    float64
	Correct int
	Skipped bool
	Reason  string
	Failed  []dataset.SampleError
}

// PhaseStats aggregates the batch results of one pass over a split.
type PhaseStats struct {
	Batches       int
	Skipped       int
	Samples       int
	Correct       int
	FailedSamples int
	LossSum       float64
}

func (p *PhaseStats) add(r BatchResult) {
	p.Batches++
	p.FailedSamples += len(r.Failed)
	if r.Skipped {
		p.Skipped++
		return
	}
	p.Samples += r.Count
	p.Correct += r.Correct
	p.LossSum += r.Loss
}

// Succeeded is the number of batches that were processed.
func (p PhaseStats) Succeeded() int { return p.Batches - p.Skipped }

// MeanLoss averages the loss over processed batches.
func (p PhaseStats) MeanLoss() float64 {
	if p.Succeeded() == 0 {
		return 0
	}
	return p.LossSum / float64(p.Succeeded())
}

// SuccessRatio is the fraction of batches that were processed.
func (p PhaseStats) SuccessRatio() float64 {
	if p.Batches == 0 {
		return 0
	}
	return float64(p.Succeeded()) / float64(p.Batches)
}

// check reports ErrDegenerateEpoch when no batch succeeded or the success
// ratio is below min.
func (p PhaseStats) check(phase string, min float64) error {
	if p.Succeeded() == 0 {
		return fmt.Errorf("%w: %s: all %d batches skipped", ErrDegenerateEpoch, phase, p.Batches)
	}
	if p.SuccessRatio() < min {
		return fmt.Errorf("%w: %s: %d of %d batches skipped (minimum success %.2f)",
			ErrDegenerateEpoch, phase, p.Skipped, p.Batches, min)
	}
	return nil
}
