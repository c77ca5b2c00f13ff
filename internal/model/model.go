// Package model implements the digit classifier network, its loss and its
// optimiser on top of gonum matrices.
package model

import (
	"errors"

	"digitsketch/internal/preprocess"
)

// NumClasses is the width of the logits vector.
const NumClasses = 10

var (
	// ErrEmptyBatch is returned for a batch with no inputs.
	ErrEmptyBatch = errors.New("model: empty batch")
	// ErrLabel is returned for labels outside [0, NumClasses) or a label count mismatch.
	ErrLabel = errors.New("model: invalid label")
	// ErrNonFinite is returned when the loss is NaN or infinite.
	ErrNonFinite = errors.New("model: non-finite loss")
	// ErrShapeMismatch is returned when parameters do not fit the network.
	ErrShapeMismatch = errors.New("model: parameter shape mismatch")
)

// Batch represents a minibatch of features and labels.
type Batch struct {
	Inputs []preprocess.Tensor
	Labels []int
}

// StepResult summarises one forward pass over a batch.
type StepResult struct {
	Loss    float64
	Correct int
	Count   int
}

// Model defines the functionality the trainer relies on.
type Model interface {
	TrainStep(batch Batch, opt *Adam) (StepResult, error)
	Evaluate(batch Batch) (StepResult, error)
}

var _ Model = (*DigitCNN)(nil)
