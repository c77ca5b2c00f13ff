package predict

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitsketch/internal/checkpoint"
	"digitsketch/internal/model"
	"digitsketch/internal/preprocess"
)

// biasedCheckpoint saves a network whose output is dominated by digit.
func biasedCheckpoint(t *testing.T, dir string, digit int, at time.Time) string {
	t.Helper()
	params := model.New(1, 1).Snapshot()
	fc2w := params["fc2.weight"]
	for i := range fc2w.Data {
		fc2w.Data[i] = 0
	}
	params["fc2.bias"].Data[digit] = 10
	path, err := checkpoint.Save(dir, params, 99, at)
	require.NoError(t, err)
	return path
}

func sevenImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.White)
		}
	}
	for x := 12; x < 52; x++ {
		for w := 0; w < 5; w++ {
			img.Set(x, 10+w, color.Black)
		}
	}
	for y := 10; y < 56; y++ {
		x := 50 - (y-10)*30/46
		for w := 0; w < 5; w++ {
			img.Set(x+w, y, color.Black)
		}
	}
	return img
}

func TestPredictSeven(t *testing.T) {
	dir := t.TempDir()
	path := biasedCheckpoint(t, dir, 7, time.Now())

	p, err := New(Options{ModelPath: path})
	require.NoError(t, err)
	assert.Equal(t, path, p.ModelPath())

	pred, err := p.Predict(sevenImage())
	require.NoError(t, err)
	assert.Equal(t, 7, pred.Label)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	require.Len(t, pred.Probs, model.NumClasses)
	assert.Equal(t, "7", Label(pred, nil))

	imgPath := filepath.Join(t.TempDir(), "7.png")
	f, err := os.Create(imgPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, sevenImage()))
	require.NoError(t, f.Close())

	fromFile, err := p.PredictFile(imgPath)
	require.NoError(t, err)
	assert.Equal(t, pred, fromFile)
}

func TestPredictMatchesDirectForward(t *testing.T) {
	dir := t.TempDir()
	params := model.New(3, 1).Snapshot()
	path, err := checkpoint.Save(dir, params, 50, time.Now())
	require.NoError(t, err)

	p, err := New(Options{ModelPath: path})
	require.NoError(t, err)
	pred, err := p.Predict(sevenImage())
	require.NoError(t, err)

	ref := model.New(8, 1)
	require.NoError(t, ref.Restore(params))
	tensor, err := preprocess.New().FromImage(sevenImage())
	require.NoError(t, err)
	probs := model.Softmax(ref.Forward([]preprocess.Tensor{tensor}, false)[0])
	assert.Equal(t, model.Argmax(probs), pred.Label)
	assert.InDelta(t, probs[pred.Label], pred.Confidence, 1e-12)
}

func TestNewPicksLatestByModTime(t *testing.T) {
	dir := t.TempDir()
	old := biasedCheckpoint(t, dir, 7, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))
	fresh := biasedCheckpoint(t, dir, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	p, err := New(Options{ModelDir: dir})
	require.NoError(t, err)
	assert.Equal(t, fresh, p.ModelPath())

	pred, err := p.Predict(sevenImage())
	require.NoError(t, err)
	assert.Equal(t, 2, pred.Label)
}

func TestNewErrors(t *testing.T) {
	_, err := New(Options{ModelDir: t.TempDir()})
	assert.ErrorIs(t, err, checkpoint.ErrNoModel)

	_, err = New(Options{ModelPath: filepath.Join(t.TempDir(), "gone.pth")})
	assert.ErrorIs(t, err, checkpoint.ErrNoModel)

	bad := filepath.Join(t.TempDir(), "bad.pth")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = New(Options{ModelPath: bad})
	assert.ErrorIs(t, err, checkpoint.ErrDecode)

	dir := t.TempDir()
	params := model.New(1, 1).Snapshot()
	params["fc2.bias"] = model.Array{Shape: []int{9}, Data: make([]float64, 9)}
	path, err := checkpoint.Save(dir, params, 1, time.Now())
	require.NoError(t, err)
	_, err = New(Options{ModelPath: path})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestPredictPreprocessErrors(t *testing.T) {
	path := biasedCheckpoint(t, t.TempDir(), 7, time.Now())
	p, err := New(Options{ModelPath: path})
	require.NoError(t, err)

	_, err = p.Predict(image.NewGray(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrPreprocess)
	assert.ErrorIs(t, err, preprocess.ErrEmptyImage)

	pred, err := p.PredictFile(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, ErrPreprocess)
	assert.ErrorIs(t, err, preprocess.ErrNotFound)
	assert.Equal(t, UnknownLabel, Label(pred, err))
	assert.Equal(t, UnknownLabel, Label(Prediction{}, errors.New("boom")))
}

func TestPredictionString(t *testing.T) {
	assert.Equal(t, "7 (93.41%)", Prediction{Label: 7, Confidence: 0.93412}.String())
}
