package metrics

// Epoch holds the end-of-epoch numbers reported by the trainer.
type Epoch struct {
	TrainLoss   float64
	ValLoss     float64
	ValAccuracy float64 // percent
}

// History is the ordered list of completed epochs of one run.
type History struct {
	Epochs []Epoch
}

// Add appends one epoch.
func (h *History) Add(e Epoch) {
	h.Epochs = append(h.Epochs, e)
}

// Len is the number of completed epochs.
func (h *History) Len() int { return len(h.Epochs) }

// Last returns the most recent epoch and false when there is none.
func (h *History) Last() (Epoch, bool) {
	if len(h.Epochs) == 0 {
		return Epoch{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Accuracy returns correct/total in percent, zero when total is zero.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}
