package model

import (
	"fmt"
	"math"
	"math/rand"

	"digitsketch/internal/preprocess"
)

// DigitCNN is the fixed classifier topology:
//
//	conv(1->32) bn relu pool, conv(32->64) bn relu pool,
//	conv(64->128) bn relu dropout(0.25), flatten,
//	fc(6272->256) relu dropout(0.5), fc(256->10)
//
// The output is raw logits. A DigitCNN is not safe for concurrent use.
type DigitCNN struct {
	layers  []layer
	trained []*Param
	buffers []*Param
}

// New builds a freshly initialised network. workers bounds the goroutines
// used by the convolution layers.
func New(seed int64, workers int) *DigitCNN {
	rng := rand.New(rand.NewSource(seed))
	dropRng := rand.New(rand.NewSource(seed + 1))

	conv1 := newConv2d("conv1", 1, 32, 3, 1, rng)
	conv1.inputGrad = false
	conv2 := newConv2d("conv2", 32, 64, 3, 1, rng)
	conv3 := newConv2d("conv3", 64, 128, 3, 1, rng)
	bn1 := newBatchNorm2d("bn1", 32)
	bn2 := newBatchNorm2d("bn2", 64)
	bn3 := newBatchNorm2d("bn3", 128)
	fc1 := newLinear("fc1", 128*7*7, 256, rng)
	fc2 := newLinear("fc2", 256, NumClasses, rng)

	for _, c := range []*conv2d{conv1, conv2, conv3} {
		c.workers = workers
	}

	m := &DigitCNN{
		layers: []layer{
			conv1, bn1, &relu{}, &maxPool2{},
			conv2, bn2, &relu{}, &maxPool2{},
			conv3, bn3, &relu{}, &dropout{rate: 0.25, rng: dropRng},
			&flatten{},
			fc1, &relu{}, &dropout{rate: 0.5, rng: dropRng},
			fc2,
		},
	}
	// Ordered like the named state of the reference network.
	m.trained = []*Param{
		conv1.weight, conv1.bias, bn1.gamma, bn1.beta,
		conv2.weight, conv2.bias, bn2.gamma, bn2.beta,
		conv3.weight, conv3.bias, bn3.gamma, bn3.beta,
		fc1.weight, fc1.bias, fc2.weight, fc2.bias,
	}
	for _, bn := range []*batchNorm2d{bn1, bn2, bn3} {
		m.buffers = append(m.buffers, bn.buffers()...)
	}
	return m
}

// Params returns the trainable parameters.
func (m *DigitCNN) Params() []*Param { return m.trained }

// Forward runs inputs through the network and returns one logits row per
// input. train=false disables dropout and uses the running batch norm statistics.
func (m *DigitCNN) Forward(inputs []preprocess.Tensor, train bool) [][]float64 {
	if len(inputs) == 0 {
		return nil
	}
	x := newVolume(len(inputs), 1, preprocess.Size, preprocess.Size)
	for i := range inputs {
		copy(x.sample(i), inputs[i][:])
	}
	for _, l := range m.layers {
		x = l.forward(x, train)
	}
	out := make([][]float64, x.n)
	for i := range out {
		out[i] = append([]float64(nil), x.sample(i)...)
	}
	return out
}

func (m *DigitCNN) backward(grad [][]float64) {
	dy := newVolume(len(grad), NumClasses, 1, 1)
	for i, row := range grad {
		copy(dy.sample(i), row)
	}
	for i := len(m.layers) - 1; i >= 0; i-- {
		dy = m.layers[i].backward(dy)
		if dy == nil {
			return
		}
	}
}

// TrainStep runs one forward/backward pass in training mode and applies opt.
func (m *DigitCNN) TrainStep(batch Batch, opt *Adam) (StepResult, error) {
	if err := checkBatch(batch); err != nil {
		return StepResult{}, err
	}
	logits := m.Forward(batch.Inputs, true)
	loss, grad, correct := crossEntropy(logits, batch.Labels)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return StepResult{}, fmt.Errorf("%w: %v", ErrNonFinite, loss)
	}
	opt.ZeroGrad()
	m.backward(grad)
	opt.Step()
	return StepResult{Loss: loss, Correct: correct, Count: len(batch.Inputs)}, nil
}

// Evaluate computes loss and accuracy in inference mode without updating anything.
func (m *DigitCNN) Evaluate(batch Batch) (StepResult, error) {
	if err := checkBatch(batch); err != nil {
		return StepResult{}, err
	}
	logits := m.Forward(batch.Inputs, false)
	loss, _, correct := crossEntropy(logits, batch.Labels)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return StepResult{}, fmt.Errorf("%w: %v", ErrNonFinite, loss)
	}
	return StepResult{Loss: loss, Correct: correct, Count: len(batch.Inputs)}, nil
}

func checkBatch(b Batch) error {
	if len(b.Inputs) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Labels) != len(b.Inputs) {
		return fmt.Errorf("%w: %d labels for %d inputs", ErrLabel, len(b.Labels), len(b.Inputs))
	}
	for _, l := range b.Labels {
		if l < 0 || l >= NumClasses {
			return fmt.Errorf("%w: %d", ErrLabel, l)
		}
	}
	return nil
}
