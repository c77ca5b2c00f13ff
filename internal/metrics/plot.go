package metrics

import (
	"errors"
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ErrEmptyHistory is returned when asked to plot a run with no epochs.
var ErrEmptyHistory = errors.New("metrics: no epochs to plot")

var (
	trainColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	valColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	accColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// WritePNG renders the loss curves and the validation accuracy as two
// vertically stacked panels that share the epoch axis.
func WritePNG(h History, path string) error {
	if h.Len() == 0 {
		return ErrEmptyHistory
	}
	train, val, acc := series(h)

	lossPlot := plot.New()
	lossPlot.Title.Text = "Training Metrics"
	lossPlot.Y.Label.Text = "Loss"
	lossPlot.Legend.Top = true
	if err := addLine(lossPlot, "Train Loss", train, trainColor, false); err != nil {
		return err
	}
	if err := addLine(lossPlot, "Val Loss", val, valColor, false); err != nil {
		return err
	}

	accPlot := plot.New()
	accPlot.X.Label.Text = "Epoch"
	accPlot.Y.Label.Text = "Val Accuracy (%)"
	accPlot.Y.Min = 0
	accPlot.Y.Max = 100
	accPlot.Legend.Top = true
	if err := addLine(accPlot, "Val Acc", acc, accColor, true); err != nil {
		return err
	}

	for _, p := range []*plot.Plot{lossPlot, accPlot} {
		p.X.Min = 1
		p.X.Max = float64(max(h.Len(), 2))
		p.X.Tick.Marker = epochTicks{}
		p.Add(plotter.NewGrid())
	}

	img := vgimg.New(8*vg.Inch, 6*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}
	plots := [][]*plot.Plot{{lossPlot}, {accPlot}}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write plot: %w", err)
	}
	return f.Close()
}

func series(h History) (train, val, acc plotter.XYs) {
	train = make(plotter.XYs, h.Len())
	val = make(plotter.XYs, h.Len())
	acc = make(plotter.XYs, h.Len())
	for i, e := range h.Epochs {
		x := float64(i + 1)
		train[i] = plotter.XY{X: x, Y: e.TrainLoss}
		val[i] = plotter.XY{X: x, Y: e.ValLoss}
		acc[i] = plotter.XY{X: x, Y: e.ValAccuracy}
	}
	return train, val, acc
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color, dashed bool) error {
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	if dashed {
		line.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
	}
	points.Color = c
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points)
	p.Legend.Add(label, line)
	return nil
}

// epochTicks labels whole epochs only.
type epochTicks struct{}

func (epochTicks) Ticks(min, max float64) []plot.Tick {
	step := 1
	if span := int(max - min); span > 20 {
		step = span / 10
	}
	var ticks []plot.Tick
	for e := int(min); e <= int(max); e += step {
		ticks = append(ticks, plot.Tick{Value: float64(e), Label: fmt.Sprint(e)})
	}
	return ticks
}
