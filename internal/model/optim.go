package model

import "math"

// Adam implements the Adam optimiser with bias correction.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	params []*Param
	m, v   [][]float64
	t      int
}

// NewAdam binds an optimiser to params.
func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Value))
		a.v[i] = make([]float64, len(p.Value))
	}
	return a
}

// SetLearningRate changes the rate used by subsequent steps.
func (a *Adam) SetLearningRate(lr float64) { a.LR = lr }

// ZeroGrad clears accumulated gradients.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Step applies one update from the current gradients.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := math.Sqrt(1 - math.Pow(a.Beta2, float64(a.t)))
	stepSize := a.LR / bc1
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			p.Value[j] -= stepSize * m[j] / (math.Sqrt(v[j])/bc2 + a.Eps)
		}
	}
}

// StepSchedule multiplies Base by Gamma every Step epochs.
type StepSchedule struct {
	Base  float64
	Step  int
	Gamma float64
}

// Rate returns the learning rate for a zero-based epoch.
func (s StepSchedule) Rate(epoch int) float64 {
	if s.Step <= 0 || epoch <= 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Gamma, float64(epoch/s.Step))
}
