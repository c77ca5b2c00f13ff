package model

import "math"

// Softmax normalises logits into a probability distribution.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Argmax returns the index of the largest value, the first on ties.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// crossEntropy returns the mean softmax cross-entropy over the batch, the
// gradient with respect to the logits and the number of correct predictions.
func crossEntropy(logits [][]float64, labels []int) (float64, [][]float64, int) {
	n := float64(len(logits))
	grad := make([][]float64, len(logits))
	loss := 0.0
	correct := 0
	for i, row := range logits {
		probs := Softmax(row)
		label := labels[i]
		loss += -math.Log(math.Max(probs[label], 1e-300))
		if Argmax(row) == label {
			correct++
		}
		probs[label] -= 1
		for j := range probs {
			probs[j] /= n
		}
		grad[i] = probs
	}
	return loss / n, grad, correct
}
