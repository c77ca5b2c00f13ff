// Package device resolves the compute device a run executes on.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnknownKind is returned for a device name other than auto, cpu or gpu.
var ErrUnknownKind = errors.New("device: unknown kind")

// Kind names a compute backend.
type Kind string

const (
	Auto Kind = "auto"
	CPU  Kind = "cpu"
	GPU  Kind = "gpu"
)

// Device is the resolved backend passed into the trainer and predictor.
type Device struct {
	Kind     Kind
	Name     string
	Features []string
	// Workers bounds the goroutines the model uses for per-sample loops.
	Workers int
}

// Resolve turns a requested kind into a usable Device. A GPU request falls back
// to the CPU since no GPU backend is linked into this build.
func Resolve(requested string, workers int) (Device, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(requested)))
	if kind == "" {
		kind = Auto
	}
	switch kind {
	case Auto, CPU:
	case GPU:
		slog.Warn("gpu requested but unavailable, falling back to cpu")
	default:
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownKind, requested)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return Device{
		Kind:     CPU,
		Name:     cpuName(),
		Features: simdFeatures(),
		Workers:  workers,
	}, nil
}

// String renders the device for log lines.
func (d Device) String() string {
	if len(d.Features) == 0 {
		return fmt.Sprintf("%s (%s)", d.Kind, d.Name)
	}
	return fmt.Sprintf("%s (%s; %s)", d.Kind, d.Name, strings.Join(d.Features, ","))
}

func cpuName() string {
	if name := strings.TrimSpace(cpuid.CPU.BrandName); name != "" {
		return name
	}
	return runtime.GOARCH
}

func simdFeatures() []string {
	var out []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4.1"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			out = append(out, f.name)
		}
	}
	return out
}
