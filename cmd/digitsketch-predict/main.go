package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"digitsketch/internal/device"
	"digitsketch/internal/logging"
	"digitsketch/internal/predict"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes one prediction and returns the process exit code.
func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("digitsketch-predict", flag.ContinueOnError)
	fs.SetOutput(stdout)
	modelPath := fs.String("model", "", "Checkpoint to load (latest in -model-dir when empty)")
	modelDir := fs.String("model-dir", "models", "Directory searched for the latest checkpoint")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn or error")
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: digitsketch-predict [-model path] [-model-dir dir] <image_path>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	imagePath := fs.Arg(0)

	logging.Init(false, logging.ParseLevel(*logLevel))

	if _, err := os.Stat(imagePath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stdout, "Error: File not found: %s\n", imagePath)
		return 1
	}

	dev, err := device.Resolve("auto", 0)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return 1
	}

	p, err := predict.New(predict.Options{ModelPath: *modelPath, ModelDir: *modelDir, Device: dev})
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return 1
	}

	pred, err := p.PredictFile(imagePath)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Predicted Digit: %d (Confidence: %.2f%%)\n", pred.Label, pred.Confidence*100)
	return 0
}
