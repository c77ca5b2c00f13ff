package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a config that cannot be used for a run.
var ErrInvalid = errors.New("invalid config")

// Config captures the runtime knobs for training and prediction.
type Config struct {
	DataDir         string  `yaml:"data_dir"`
	ModelDir        string  `yaml:"model_dir"`
	PlotDir         string  `yaml:"plot_dir"`
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	LRStep          int     `yaml:"lr_step"`
	LRGamma         float64 `yaml:"lr_gamma"`
	ValFraction     float64 `yaml:"val_fraction"`
	Seed            int64   `yaml:"seed"`
	NumWorkers      int     `yaml:"num_workers"`
	LogEvery        int     `yaml:"log_every"`
	MinBatchSuccess float64 `yaml:"min_batch_success"`
	Device          string  `yaml:"device"`
	LogLevel        string  `yaml:"log_level"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir      string
	ModelDir     string
	PlotDir      string
	Epochs       int
	BatchSize    int
	LearningRate float64
	NumWorkers   int
	Seed         int64
	LogEvery     int
	Device       string
	LogLevel     string
}

// Default returns the values used when neither a file nor a flag sets a key.
func Default() *Config {
	return &Config{
		DataDir:         "data/train",
		ModelDir:        "models",
		PlotDir:         "visualizations",
		Epochs:          10,
		BatchSize:       128,
		LearningRate:    0.001,
		LRStep:          3,
		LRGamma:         0.1,
		ValFraction:     0.2,
		Seed:            42,
		NumWorkers:      4,
		LogEvery:        10,
		MinBatchSuccess: 0.5,
		Device:          "auto",
		LogLevel:        "info",
	}
}

// Load reads a Config from YAML on top of Default. An empty path yields the defaults.
// Epochs may legitimately be zero in the file; Validate decides what to do with it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.ModelDir != "" {
		c.ModelDir = o.ModelDir
	}
	if o.PlotDir != "" {
		c.PlotDir = o.PlotDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir must be set", ErrInvalid)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("%w: model_dir must be set", ErrInvalid)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be > 0 (got %d)", ErrInvalid, c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0 (got %d)", ErrInvalid, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be > 0 (got %g)", ErrInvalid, c.LearningRate)
	}
	if c.ValFraction <= 0 || c.ValFraction >= 1 {
		return fmt.Errorf("%w: val_fraction must be in (0,1) (got %g)", ErrInvalid, c.ValFraction)
	}
	if c.MinBatchSuccess < 0 || c.MinBatchSuccess > 1 {
		return fmt.Errorf("%w: min_batch_success must be in [0,1] (got %g)", ErrInvalid, c.MinBatchSuccess)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("%w: num_workers must be > 0 (got %d)", ErrInvalid, c.NumWorkers)
	}
	if c.LRStep <= 0 {
		c.LRStep = 3
	}
	if c.LRGamma <= 0 {
		c.LRGamma = 0.1
	}
	if c.PlotDir == "" {
		c.PlotDir = c.ModelDir
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	if c.Device == "" {
		c.Device = "auto"
	}
	return nil
}
