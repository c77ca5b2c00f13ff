// Package predict classifies a single raster with a persisted model.
package predict

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"digitsketch/internal/checkpoint"
	"digitsketch/internal/device"
	"digitsketch/internal/model"
	"digitsketch/internal/preprocess"
)

// ErrPreprocess wraps failures to turn the input into a tensor.
var ErrPreprocess = errors.New("predict: preprocessing failed")

// UnknownLabel is shown in place of a digit when prediction fails.
const UnknownLabel = "?"

// Options selects the model to load. ModelPath wins over ModelDir.
type Options struct {
	ModelPath string
	ModelDir  string
	Device    device.Device
}

// Prediction is the most likely digit and its softmax probability.
type Prediction struct {
	Label      int
	Confidence float64
	Probs      []float64
}

func (p Prediction) String() string {
	return fmt.Sprintf("%d (%.2f%%)", p.Label, p.Confidence*100)
}

// Predictor holds a model restored from a checkpoint. It is safe for
// concurrent use; calls are serialised.
type Predictor struct {
	mu        sync.Mutex
	model     *model.DigitCNN
	pre       *preprocess.Preprocessor
	modelPath string
}

// New locates and loads the checkpoint described by opts.
func New(opts Options) (*Predictor, error) {
	path := opts.ModelPath
	if path == "" {
		dir := opts.ModelDir
		if dir == "" {
			dir = "models"
		}
		latest, err := checkpoint.Latest(dir)
		if err != nil {
			return nil, err
		}
		path = latest
	}
	params, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	workers := opts.Device.Workers
	if workers <= 0 {
		workers = 1
	}
	mdl := model.New(0, workers)
	if err := mdl.Restore(params); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &Predictor{model: mdl, pre: preprocess.New(), modelPath: path}, nil
}

// ModelPath is the checkpoint the predictor was loaded from.
func (p *Predictor) ModelPath() string { return p.modelPath }

// Predict classifies an in-memory raster.
func (p *Predictor) Predict(img image.Image) (Prediction, error) {
	tensor, err := p.pre.FromImage(img)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrPreprocess, err)
	}
	return p.classify(tensor), nil
}

// PredictFile classifies the image stored at path.
func (p *Predictor) PredictFile(path string) (Prediction, error) {
	tensor, err := p.pre.FromFile(path)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrPreprocess, err)
	}
	return p.classify(tensor), nil
}

func (p *Predictor) classify(t preprocess.Tensor) Prediction {
	p.mu.Lock()
	logits := p.model.Forward([]preprocess.Tensor{t}, false)[0]
	p.mu.Unlock()

	probs := model.Softmax(logits)
	label := model.Argmax(probs)
	return Prediction{Label: label, Confidence: probs[label], Probs: probs}
}

// Label renders a prediction outcome for display, UnknownLabel on failure.
func Label(pred Prediction, err error) string {
	if err != nil {
		return UnknownLabel
	}
	return fmt.Sprint(pred.Label)
}
