package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"digitsketch/internal/checkpoint"
	"digitsketch/internal/dataset"
	"digitsketch/internal/device"
	"digitsketch/internal/metrics"
	"digitsketch/internal/model"
)

var (
	// ErrNoEpochs is returned when the run is configured with no epochs.
	ErrNoEpochs = errors.New("trainer: epochs must be > 0")
	// ErrDegenerateEpoch is returned when too few batches of an epoch succeed
	// for its metrics to mean anything.
	ErrDegenerateEpoch = errors.New("trainer: degenerate epoch")
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	DataDir         string
	ModelDir        string
	PlotDir         string
	Epochs          int
	BatchSize       int
	LearningRate    float64
	LRStep          int
	LRGamma         float64
	ValFraction     float64
	Seed            int64
	NumWorkers      int
	LogEvery        int
	MinBatchSuccess float64
	Device          device.Device

	// Now stamps the checkpoint name. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// EpochStats is the per-epoch summary.
type EpochStats struct {
	Epoch       int
	LR          float64
	Train       PhaseStats
	Val         PhaseStats
	ValAccuracy float64
	Duration    time.Duration
}

// Result describes a finished run. Persistence failures are recorded here
// rather than failing the run.
type Result struct {
	RunID     string
	Epochs    []EpochStats
	History   metrics.History
	ModelPath string
	PlotPath  string
	HTMLPath  string
	SaveErr   error
	PlotErr   error
}

type runner struct {
	cfg    RunConfig
	log    *slog.Logger
	model  *model.DigitCNN
	opt    *model.Adam
	result Result
}

// Run executes the training workload.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.Epochs <= 0 {
		return Result{}, fmt.Errorf("%w (got %d)", ErrNoEpochs, cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return Result{}, errors.New("trainer: batch size must be > 0")
	}
	if cfg.ValFraction <= 0 || cfg.ValFraction >= 1 {
		cfg.ValFraction = 0.2
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}
	if cfg.PlotDir == "" {
		cfg.PlotDir = cfg.ModelDir
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	runID := uuid.NewString()
	r := &runner{
		cfg:    cfg,
		log:    cfg.Logger.With("run_id", runID),
		result: Result{RunID: runID},
	}

	samples, err := dataset.Discover(cfg.DataDir)
	if err != nil {
		return r.result, fmt.Errorf("load dataset: %w", err)
	}
	train, val, err := dataset.Split(samples, cfg.ValFraction, cfg.Seed)
	if err != nil {
		return r.result, fmt.Errorf("split dataset: %w", err)
	}
	r.log.Info("training started",
		"device", cfg.Device.String(),
		"samples", len(samples),
		"train", len(train),
		"val", len(val),
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize,
	)

	r.model = model.New(cfg.Seed, cfg.Device.Workers)
	r.opt = model.NewAdam(r.model.Params(), cfg.LearningRate)
	schedule := model.StepSchedule{Base: cfg.LearningRate, Step: cfg.LRStep, Gamma: cfg.LRGamma}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}
		start := time.Now()
		stats := EpochStats{Epoch: epoch + 1, LR: schedule.Rate(epoch)}
		r.opt.SetLearningRate(stats.LR)

		stats.Train, err = r.runPhase(ctx, "train", dataset.Shuffle(train, cfg.Seed+int64(epoch)), true, epoch)
		if err != nil {
			return r.result, err
		}
		stats.Val, err = r.runPhase(ctx, "val", val, false, epoch)
		if err != nil {
			return r.result, err
		}
		stats.ValAccuracy = metrics.Accuracy(stats.Val.Correct, stats.Val.Samples)
		stats.Duration = time.Since(start)
		r.result.Epochs = append(r.result.Epochs, stats)

		if err := stats.Train.check("train", cfg.MinBatchSuccess); err != nil {
			return r.result, fmt.Errorf("epoch %d: %w", stats.Epoch, err)
		}
		if err := stats.Val.check("val", cfg.MinBatchSuccess); err != nil {
			return r.result, fmt.Errorf("epoch %d: %w", stats.Epoch, err)
		}

		r.result.History.Add(metrics.Epoch{
			TrainLoss:   stats.Train.MeanLoss(),
			ValLoss:     stats.Val.MeanLoss(),
			ValAccuracy: stats.ValAccuracy,
		})
		r.log.Info("epoch done",
			"epoch", stats.Epoch,
			"of", cfg.Epochs,
			"lr", stats.LR,
			"train_loss", stats.Train.MeanLoss(),
			"val_loss", stats.Val.MeanLoss(),
			"val_acc", stats.ValAccuracy,
			"skipped_batches", stats.Train.Skipped+stats.Val.Skipped,
			"skipped_samples", stats.Train.FailedSamples+stats.Val.FailedSamples,
			"elapsed", stats.Duration.Round(time.Millisecond),
		)
	}

	r.persist()
	return r.result, nil
}

func (r *runner) runPhase(ctx context.Context, phase string, samples []dataset.Sample, train bool, epoch int) (PhaseStats, error) {
	var stats PhaseStats
	stream, err := dataset.StartLoader(ctx, dataset.LoaderOptions{
		Samples:    samples,
		BatchSize:  r.cfg.BatchSize,
		NumWorkers: r.cfg.NumWorkers,
		Augment:    train,
		Seed:       r.cfg.Seed + int64(epoch),
	})
	if err != nil {
		return stats, err
	}

	total := dataset.NumBatches(len(samples), r.cfg.BatchSize)
	var window metrics.Window
	waitStart := time.Now()
	for batch := range stream {
		dataTime := time.Since(waitStart)
		computeStart := time.Now()
		res := r.step(batch, train)
		computeTime := time.Since(computeStart)

		stats.add(res)
		for _, failed := range res.Failed {
			r.log.Warn("sample skipped", "phase", phase, "path", failed.Sample.Path, "err", failed.Err)
		}
		if res.Skipped {
			r.log.Warn("batch skipped", "phase", phase, "batch", res.Index+1, "reason", res.Reason)
		} else {
			window.Record(res.Count, res.Correct, dataTime, computeTime, res.Loss)
		}

		done := res.Index + 1
		if train && (done%r.cfg.LogEvery == 0 || done == total) {
			snap := window.Snapshot()
			r.log.Debug("progress",
				"epoch", epoch+1,
				"batch", done,
				"of", total,
				"loss", snap.LastLoss,
				"avg_loss", snap.AvgLoss,
				"images_per_sec", snap.ImagesPerSec,
				"data_ms", snap.AvgDataMS,
				"compute_ms", snap.AvgComputeMS,
			)
		}
		waitStart = time.Now()
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *runner) step(b dataset.Batch, train bool) BatchResult {
	res := BatchResult{Index: b.Index, Failed: b.Failed}
	if b.Len() == 0 {
		res.Skipped = true
		res.Reason = fmt.Sprintf("all %d samples failed to load", len(b.Failed))
		return res
	}
	mb := model.Batch{Inputs: b.Inputs, Labels: b.Labels}
	var (
		out model.StepResult
		err error
	)
	if train {
		out, err = r.model.TrainStep(mb, r.opt)
	} else {
		out, err = r.model.Evaluate(mb)
	}
	if err != nil {
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}
	res.Count = out.Count
	res.Loss = out.Loss
	res.Correct = out.Correct
	return res
}

// persist writes the checkpoint and plots. Failures are logged and recorded.
func (r *runner) persist() {
	last, _ := r.result.History.Last()
	at := r.cfg.Now()

	path, err := checkpoint.Save(r.cfg.ModelDir, r.model.Snapshot(), last.ValAccuracy, at)
	if err != nil {
		r.result.SaveErr = err
		r.log.Error("failed to save model", "err", err)
		path = checkpoint.FileName(at, last.ValAccuracy)
	} else {
		r.result.ModelPath = path
		r.log.Info("model saved", "path", path)
	}

	if err := os.MkdirAll(r.cfg.PlotDir, 0o755); err != nil {
		r.result.PlotErr = err
		r.log.Error("failed to save plot", "err", err)
		return
	}
	pngPath := checkpoint.PlotPath(r.cfg.PlotDir, path, ".png")
	if err := metrics.WritePNG(r.result.History, pngPath); err != nil {
		r.result.PlotErr = err
		r.log.Error("failed to save plot", "path", pngPath, "err", err)
	} else {
		r.result.PlotPath = pngPath
		r.log.Info("plot saved", "path", pngPath)
	}
	htmlPath := checkpoint.PlotPath(r.cfg.PlotDir, path, ".html")
	if err := metrics.WriteHTML(r.result.History, htmlPath); err != nil {
		r.result.PlotErr = errors.Join(r.result.PlotErr, err)
		r.log.Error("failed to save html plot", "path", htmlPath, "err", err)
	} else {
		r.result.HTMLPath = htmlPath
	}
}
