package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"digitsketch/internal/config"
	"digitsketch/internal/device"
	"digitsketch/internal/logging"
	"digitsketch/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	dataDir := flag.String("data-dir", "", "Override sample store root")
	modelDir := flag.String("model-dir", "", "Override checkpoint directory")
	plotDir := flag.String("plot-dir", "", "Override plot directory")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Initial learning rate")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N batches")
	dev := flag.String("device", "", "Compute device: auto, cpu or gpu")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	jsonLogs := flag.Bool("json-logs", false, "Emit JSON logs")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("failed to load config", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:      *dataDir,
		ModelDir:     *modelDir,
		PlotDir:      *plotDir,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		LogEvery:     *logEvery,
		Device:       *dev,
		LogLevel:     *logLevel,
	})

	logging.Init(*jsonLogs, logging.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	resolved, err := device.Resolve(cfg.Device, 0)
	if err != nil {
		fatal("resolve device", err)
	}
	slog.Info("device", "device", resolved.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		DataDir:         cfg.DataDir,
		ModelDir:        cfg.ModelDir,
		PlotDir:         cfg.PlotDir,
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		LearningRate:    cfg.LearningRate,
		LRStep:          cfg.LRStep,
		LRGamma:         cfg.LRGamma,
		ValFraction:     cfg.ValFraction,
		Seed:            cfg.Seed,
		NumWorkers:      cfg.NumWorkers,
		LogEvery:        cfg.LogEvery,
		MinBatchSuccess: cfg.MinBatchSuccess,
		Device:          resolved,
	}

	res, err := trainer.Run(ctx, runCfg)
	if err != nil {
		stop()
		fatal("training failed", err)
	}
	slog.Info("run complete", "run_id", res.RunID, "model", res.ModelPath, "plot", res.PlotPath, "html", res.HTMLPath)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
