package preprocess

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Jitter is a random affine transform about the image centre. Pixels mapped
// from outside the source are filled with zero.
type Jitter struct {
	MaxDegrees   float64
	MaxTranslate float64 // fraction of the extent, per axis
	MinScale     float64
	MaxScale     float64

	rng *rand.Rand
}

// DefaultJitter returns +-15 degrees, 10% translation and 0.9-1.1 scale.
func DefaultJitter(rng *rand.Rand) *Jitter {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Jitter{
		MaxDegrees:   15,
		MaxTranslate: 0.1,
		MinScale:     0.9,
		MaxScale:     1.1,
		rng:          rng,
	}
}

// Apply returns a transformed copy of src.
func (j *Jitter) Apply(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	deg := j.uniform(-j.MaxDegrees, j.MaxDegrees)
	tx := j.uniform(-j.MaxTranslate, j.MaxTranslate) * w
	ty := j.uniform(-j.MaxTranslate, j.MaxTranslate) * h
	scale := j.uniform(j.MinScale, j.MaxScale)

	dst := image.NewGray(b)
	draw.BiLinear.Transform(dst, affine(w/2, h/2, deg, tx, ty, scale), src, b, draw.Src, nil)
	return dst
}

func (j *Jitter) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + j.rng.Float64()*(hi-lo)
}

// affine maps source to destination coordinates: rotate and scale about
// (cx, cy), then translate by (tx, ty).
func affine(cx, cy, deg, tx, ty, scale float64) f64.Aff3 {
	rad := deg * math.Pi / 180
	a := scale * math.Cos(rad)
	bb := -scale * math.Sin(rad)
	d := scale * math.Sin(rad)
	e := scale * math.Cos(rad)
	return f64.Aff3{
		a, bb, cx + tx - a*cx - bb*cy,
		d, e, cy + ty - d*cx - e*cy,
	}
}
