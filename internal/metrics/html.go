package metrics

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders loss and accuracy on one chart with accuracy on a
// secondary y-axis.
func WriteHTML(h History, path string) error {
	if h.Len() == 0 {
		return ErrEmptyHistory
	}
	epochs := make([]string, h.Len())
	train := make([]opts.LineData, h.Len())
	val := make([]opts.LineData, h.Len())
	acc := make([]opts.LineData, h.Len())
	for i, e := range h.Epochs {
		epochs[i] = strconv.Itoa(i + 1)
		train[i] = opts.LineData{Value: e.TrainLoss}
		val[i] = opts.LineData{Value: e.ValLoss}
		acc[i] = opts.LineData{Value: e.ValAccuracy, YAxisIndex: 1}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Training Metrics", Width: "900px", Height: "540px"}),
		charts.WithTitleOpts(opts.Title{Title: "Training Metrics", Subtitle: fmt.Sprintf("%d epochs", h.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Epoch", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Loss", Type: "value"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Val Accuracy (%)", Type: "value", Min: 0, Max: 100})

	line.SetXAxis(epochs).
		AddSeries("Train Loss", train).
		AddSeries("Val Loss", val).
		AddSeries("Val Acc", acc, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html plot: %w", err)
	}
	if err := line.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render html plot: %w", err)
	}
	return f.Close()
}
