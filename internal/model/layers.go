package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// volume is an NCHW activation buffer.
type volume struct {
	n, c, h, w int
	data       []float64
}

func newVolume(n, c, h, w int) *volume {
	return &volume{n: n, c: c, h: h, w: w, data: make([]float64, n*c*h*w)}
}

func (v *volume) size() int { return v.c * v.h * v.w }

func (v *volume) sample(i int) []float64 {
	s := v.size()
	return v.data[i*s : (i+1)*s]
}

// Param is a named parameter tensor. Grad is nil for buffers that are not trained.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, trainable bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	p := &Param{Name: name, Shape: shape, Value: make([]float64, n)}
	if trainable {
		p.Grad = make([]float64, n)
	}
	return p
}

func (p *Param) fillUniform(rng *rand.Rand, bound float64) {
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * bound
	}
}

type layer interface {
	forward(x *volume, train bool) *volume
	backward(dy *volume) *volume
	params() []*Param
}

// conv2d is a stride-1 convolution computed as a matrix product over im2col columns.
type conv2d struct {
	inC, outC, k, pad int
	weight, bias      *Param
	// inputGrad is false for the first layer, whose input gradient is unused.
	inputGrad bool
	workers   int

	input *volume
}

func newConv2d(name string, inC, outC, k, pad int, rng *rand.Rand) *conv2d {
	c := &conv2d{
		inC:       inC,
		outC:      outC,
		k:         k,
		pad:       pad,
		weight:    newParam(name+".weight", true, outC, inC, k, k),
		bias:      newParam(name+".bias", true, outC),
		inputGrad: true,
		workers:   1,
	}
	bound := 1 / math.Sqrt(float64(inC*k*k))
	c.weight.fillUniform(rng, bound)
	c.bias.fillUniform(rng, bound)
	return c
}

func (c *conv2d) params() []*Param { return []*Param{c.weight, c.bias} }

func (c *conv2d) outDims(h, w int) (int, int) {
	return h + 2*c.pad - c.k + 1, w + 2*c.pad - c.k + 1
}

func (c *conv2d) forward(x *volume, train bool) *volume {
	c.input = x
	oh, ow := c.outDims(x.h, x.w)
	out := newVolume(x.n, c.outC, oh, ow)
	rows := c.inC * c.k * c.k
	W := mat.NewDense(c.outC, rows, c.weight.Value)

	parallelRange(x.n, c.workers, func(_, lo, hi int) {
		cols := make([]float64, rows*oh*ow)
		C := mat.NewDense(rows, oh*ow, cols)
		for i := lo; i < hi; i++ {
			im2col(x.sample(i), c.inC, x.h, x.w, c.k, c.pad, oh, ow, cols)
			O := mat.NewDense(c.outC, oh*ow, out.sample(i))
			O.Mul(W, C)
			o := out.sample(i)
			for f := 0; f < c.outC; f++ {
				floats.AddConst(c.bias.Value[f], o[f*oh*ow:(f+1)*oh*ow])
			}
		}
	})
	return out
}

func (c *conv2d) backward(dy *volume) *volume {
	x := c.input
	oh, ow := dy.h, dy.w
	rows := c.inC * c.k * c.k
	W := mat.NewDense(c.outC, rows, c.weight.Value)

	var dx *volume
	if c.inputGrad {
		dx = newVolume(x.n, x.c, x.h, x.w)
	}

	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	dWs := make([][]float64, workers)
	dbs := make([][]float64, workers)

	parallelRange(x.n, workers, func(worker, lo, hi int) {
		dW := make([]float64, c.outC*rows)
		db := make([]float64, c.outC)
		cols := make([]float64, rows*oh*ow)
		C := mat.NewDense(rows, oh*ow, cols)
		G := mat.NewDense(c.outC, rows, dW)
		var tmp mat.Dense
		var dcols *mat.Dense
		if c.inputGrad {
			dcols = mat.NewDense(rows, oh*ow, nil)
		}
		for i := lo; i < hi; i++ {
			im2col(x.sample(i), c.inC, x.h, x.w, c.k, c.pad, oh, ow, cols)
			g := dy.sample(i)
			D := mat.NewDense(c.outC, oh*ow, g)
			tmp.Mul(D, C.T())
			G.Add(G, &tmp)
			for f := 0; f < c.outC; f++ {
				db[f] += floats.Sum(g[f*oh*ow : (f+1)*oh*ow])
			}
			if c.inputGrad {
				dcols.Mul(W.T(), D)
				col2im(dcols.RawMatrix().Data, c.inC, x.h, x.w, c.k, c.pad, oh, ow, dx.sample(i))
			}
		}
		dWs[worker] = dW
		dbs[worker] = db
	})

	for w := range dWs {
		if dWs[w] == nil {
			continue
		}
		floats.Add(c.weight.Grad, dWs[w])
		floats.Add(c.bias.Grad, dbs[w])
	}
	c.input = nil
	return dx
}

// im2col lays out every k x k receptive field of src as a column of dst.
// Row index is (channel*k+ky)*k+kx, column index is oy*ow+ox.
func im2col(src []float64, ch, h, w, k, pad, oh, ow int, dst []float64) {
	for ci := 0; ci < ch; ci++ {
		plane := src[ci*h*w : (ci+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := dst[((ci*k+ky)*k+kx)*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					iy := oy + ky - pad
					seg := row[oy*ow : (oy+1)*ow]
					if iy < 0 || iy >= h {
						for i := range seg {
							seg[i] = 0
						}
						continue
					}
					for ox := 0; ox < ow; ox++ {
						ix := ox + kx - pad
						if ix < 0 || ix >= w {
							seg[ox] = 0
						} else {
							seg[ox] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates columns back into dst.
func col2im(cols []float64, ch, h, w, k, pad, oh, ow int, dst []float64) {
	for ci := 0; ci < ch; ci++ {
		plane := dst[ci*h*w : (ci+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := cols[((ci*k+ky)*k+kx)*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					iy := oy + ky - pad
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < ow; ox++ {
						ix := ox + kx - pad
						if ix < 0 || ix >= w {
							continue
						}
						plane[iy*w+ix] += row[oy*ow+ox]
					}
				}
			}
		}
	}
}

// batchNorm2d normalises each channel over the batch and spatial dimensions.
type batchNorm2d struct {
	c                  int
	eps, momentum      float64
	gamma, beta        *Param
	runMean, runVar    *Param
	xhat               []float64
	invStd             []float64
	usedBatchStatistic bool
}

func newBatchNorm2d(name string, c int) *batchNorm2d {
	bn := &batchNorm2d{
		c:        c,
		eps:      1e-5,
		momentum: 0.1,
		gamma:    newParam(name+".weight", true, c),
		beta:     newParam(name+".bias", true, c),
		runMean:  newParam(name+".running_mean", false, c),
		runVar:   newParam(name+".running_var", false, c),
	}
	for i := 0; i < c; i++ {
		bn.gamma.Value[i] = 1
		bn.runVar.Value[i] = 1
	}
	return bn
}

func (b *batchNorm2d) params() []*Param { return []*Param{b.gamma, b.beta} }

func (b *batchNorm2d) buffers() []*Param { return []*Param{b.runMean, b.runVar} }

func (b *batchNorm2d) forward(x *volume, train bool) *volume {
	hw := x.h * x.w
	m := float64(x.n * hw)
	out := newVolume(x.n, x.c, x.h, x.w)
	b.xhat = make([]float64, len(x.data))
	b.invStd = make([]float64, b.c)
	b.usedBatchStatistic = train

	for ch := 0; ch < b.c; ch++ {
		var mean, variance float64
		if train {
			for i := 0; i < x.n; i++ {
				mean += floats.Sum(x.sample(i)[ch*hw : (ch+1)*hw])
			}
			mean /= m
			for i := 0; i < x.n; i++ {
				for _, v := range x.sample(i)[ch*hw : (ch+1)*hw] {
					d := v - mean
					variance += d * d
				}
			}
			variance /= m
			unbiased := variance
			if m > 1 {
				unbiased = variance * m / (m - 1)
			}
			b.runMean.Value[ch] = (1-b.momentum)*b.runMean.Value[ch] + b.momentum*mean
			b.runVar.Value[ch] = (1-b.momentum)*b.runVar.Value[ch] + b.momentum*unbiased
		} else {
			mean = b.runMean.Value[ch]
			variance = b.runVar.Value[ch]
		}
		inv := 1 / math.Sqrt(variance+b.eps)
		b.invStd[ch] = inv
		g, be := b.gamma.Value[ch], b.beta.Value[ch]
		for i := 0; i < x.n; i++ {
			off := i*x.size() + ch*hw
			for j := 0; j < hw; j++ {
				xh := (x.data[off+j] - mean) * inv
				b.xhat[off+j] = xh
				out.data[off+j] = g*xh + be
			}
		}
	}
	return out
}

func (b *batchNorm2d) backward(dy *volume) *volume {
	hw := dy.h * dy.w
	m := float64(dy.n * hw)
	dx := newVolume(dy.n, dy.c, dy.h, dy.w)
	for ch := 0; ch < b.c; ch++ {
		var sumDy, sumDyXhat float64
		for i := 0; i < dy.n; i++ {
			off := i*dy.size() + ch*hw
			for j := 0; j < hw; j++ {
				sumDy += dy.data[off+j]
				sumDyXhat += dy.data[off+j] * b.xhat[off+j]
			}
		}
		b.gamma.Grad[ch] += sumDyXhat
		b.beta.Grad[ch] += sumDy

		g := b.gamma.Value[ch]
		inv := b.invStd[ch]
		for i := 0; i < dy.n; i++ {
			off := i*dy.size() + ch*hw
			for j := 0; j < hw; j++ {
				if !b.usedBatchStatistic {
					dx.data[off+j] = dy.data[off+j] * g * inv
					continue
				}
				dx.data[off+j] = g * inv / m * (m*dy.data[off+j] - sumDy - b.xhat[off+j]*sumDyXhat)
			}
		}
	}
	b.xhat = nil
	return dx
}

type relu struct {
	mask []bool
}

func (r *relu) params() []*Param { return nil }

func (r *relu) forward(x *volume, train bool) *volume {
	out := newVolume(x.n, x.c, x.h, x.w)
	r.mask = make([]bool, len(x.data))
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
			r.mask[i] = true
		}
	}
	return out
}

func (r *relu) backward(dy *volume) *volume {
	dx := newVolume(dy.n, dy.c, dy.h, dy.w)
	for i, keep := range r.mask {
		if keep {
			dx.data[i] = dy.data[i]
		}
	}
	r.mask = nil
	return dx
}

// maxPool2 is a 2x2 max pool with stride 2.
type maxPool2 struct {
	argmax []int
	inDims volume
}

func (p *maxPool2) params() []*Param { return nil }

func (p *maxPool2) forward(x *volume, train bool) *volume {
	oh, ow := x.h/2, x.w/2
	out := newVolume(x.n, x.c, oh, ow)
	p.argmax = make([]int, len(out.data))
	p.inDims = volume{n: x.n, c: x.c, h: x.h, w: x.w}
	idx := 0
	for i := 0; i < x.n; i++ {
		for ch := 0; ch < x.c; ch++ {
			base := i*x.size() + ch*x.h*x.w
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := base + 2*oy*x.w + 2*ox
					for _, off := range [...]int{1, x.w, x.w + 1} {
						cand := base + 2*oy*x.w + 2*ox + off
						if x.data[cand] > x.data[best] {
							best = cand
						}
					}
					out.data[idx] = x.data[best]
					p.argmax[idx] = best
					idx++
				}
			}
		}
	}
	return out
}

func (p *maxPool2) backward(dy *volume) *volume {
	d := p.inDims
	dx := newVolume(d.n, d.c, d.h, d.w)
	for i, src := range p.argmax {
		dx.data[src] += dy.data[i]
	}
	p.argmax = nil
	return dx
}

// dropout zeroes elements with probability rate while training and rescales
// the survivors so the expected activation is unchanged.
type dropout struct {
	rate float64
	rng  *rand.Rand
	mask []float64
}

func (d *dropout) params() []*Param { return nil }

func (d *dropout) forward(x *volume, train bool) *volume {
	if !train || d.rate <= 0 {
		d.mask = nil
		return x
	}
	out := newVolume(x.n, x.c, x.h, x.w)
	d.mask = make([]float64, len(x.data))
	scale := 1 / (1 - d.rate)
	for i, v := range x.data {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = scale
			out.data[i] = v * scale
		}
	}
	return out
}

func (d *dropout) backward(dy *volume) *volume {
	if d.mask == nil {
		return dy
	}
	dx := newVolume(dy.n, dy.c, dy.h, dy.w)
	floats.MulTo(dx.data, dy.data, d.mask)
	d.mask = nil
	return dx
}

// flatten reshapes NCHW into N x (C*H*W) without copying.
type flatten struct {
	inDims volume
}

func (f *flatten) params() []*Param { return nil }

func (f *flatten) forward(x *volume, train bool) *volume {
	f.inDims = volume{n: x.n, c: x.c, h: x.h, w: x.w}
	return &volume{n: x.n, c: x.size(), h: 1, w: 1, data: x.data}
}

func (f *flatten) backward(dy *volume) *volume {
	d := f.inDims
	return &volume{n: d.n, c: d.c, h: d.h, w: d.w, data: dy.data}
}

// linear computes y = x W^T + b with W stored as [out, in].
type linear struct {
	in, out      int
	weight, bias *Param
	input        *volume
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	l := &linear{
		in:     in,
		out:    out,
		weight: newParam(name+".weight", true, out, in),
		bias:   newParam(name+".bias", true, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	l.weight.fillUniform(rng, bound)
	l.bias.fillUniform(rng, bound)
	return l
}

func (l *linear) params() []*Param { return []*Param{l.weight, l.bias} }

func (l *linear) forward(x *volume, train bool) *volume {
	l.input = x
	out := newVolume(x.n, l.out, 1, 1)
	X := mat.NewDense(x.n, l.in, x.data)
	W := mat.NewDense(l.out, l.in, l.weight.Value)
	Y := mat.NewDense(x.n, l.out, out.data)
	Y.Mul(X, W.T())
	for i := 0; i < x.n; i++ {
		floats.Add(out.sample(i), l.bias.Value)
	}
	return out
}

func (l *linear) backward(dy *volume) *volume {
	x := l.input
	X := mat.NewDense(x.n, l.in, x.data)
	W := mat.NewDense(l.out, l.in, l.weight.Value)
	D := mat.NewDense(dy.n, l.out, dy.data)

	var dW mat.Dense
	dW.Mul(D.T(), X)
	floats.Add(l.weight.Grad, dW.RawMatrix().Data)
	for i := 0; i < dy.n; i++ {
		floats.Add(l.bias.Grad, dy.sample(i))
	}

	dx := newVolume(x.n, x.c, x.h, x.w)
	DX := mat.NewDense(x.n, l.in, dx.data)
	DX.Mul(D, W)
	l.input = nil
	return dx
}
