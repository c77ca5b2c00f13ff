// Package preprocess turns rasters into the normalised 28x28 tensors the
// classifier consumes. Training and inference share one pipeline; the only
// difference is the optional random affine jitter used while training.
package preprocess

import (
	"errors"
	"image"
	"math/rand"

	"golang.org/x/image/draw"
)

const (
	// Size is the edge length of a tensor.
	Size = 28
	// Mean and Std standardise the inverted [0,1] pixel values.
	Mean = 0.1307
	Std  = 0.3081
)

// ErrEmptyImage is returned for a raster with no pixels.
var ErrEmptyImage = errors.New("preprocess: empty image")

// Tensor is a row-major Size x Size grid of normalised values.
type Tensor [Size * Size]float64

// At returns the value at column x, row y.
func (t *Tensor) At(x, y int) float64 {
	return t[y*Size+x]
}

// Range reports the closed interval every tensor value lies in.
func Range() (lo, hi float64) {
	return (0 - Mean) / Std, (1 - Mean) / Std
}

// Preprocessor runs the fixed grayscale, resize, invert and standardise chain.
// A nil Jitter means inference mode.
type Preprocessor struct {
	Jitter *Jitter
}

// New returns the inference pipeline.
func New() *Preprocessor {
	return &Preprocessor{}
}

// NewTraining returns the pipeline with random affine jitter drawn from rng.
// The result must not be shared between goroutines.
func NewTraining(rng *rand.Rand) *Preprocessor {
	return &Preprocessor{Jitter: DefaultJitter(rng)}
}

// FromFile opens and decodes path, then runs FromImage.
func (p *Preprocessor) FromFile(path string) (Tensor, error) {
	img, err := Open(path)
	if err != nil {
		return Tensor{}, err
	}
	return p.FromImage(img)
}

// FromImage converts an in-memory raster of any size.
func (p *Preprocessor) FromImage(img image.Image) (Tensor, error) {
	if img == nil {
		return Tensor{}, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Tensor{}, ErrEmptyImage
	}

	gray := Grayscale(img)
	small := image.NewGray(image.Rect(0, 0, Size, Size))
	draw.CatmullRom.Scale(small, small.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	if p != nil && p.Jitter != nil {
		small = p.Jitter.Apply(small)
	}
	return normalize(small), nil
}

// Grayscale converts img to 8-bit luma using the ITU-R 601 weights.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

func normalize(g *image.Gray) Tensor {
	var t Tensor
	for y := 0; y < Size; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+Size]
		for x, px := range row {
			v := 1 - float64(px)/255
			t[y*Size+x] = (v - Mean) / Std
		}
	}
	return t
}
