// Package checkpoint persists model parameter snapshots as zstd-compressed
// CBOR blobs named model_<timestamp>_<val_accuracy>.pth.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"digitsketch/internal/model"
)

// Version1 is the only blob layout written so far.
const Version1 = "digitsketch.params.v1"

// Ext is the checkpoint file extension.
const Ext = ".pth"

const timeLayout = "20060102_150405"

// fc1.weight alone holds 256*6272 values, past the decoder's default array cap.
var decMode = mustDecMode(cbor.DecOptions{MaxArrayElements: math.MaxInt32})

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

var (
	// ErrNoModel means no checkpoint exists at the given path or directory.
	ErrNoModel = errors.New("checkpoint: no model file found")
	// ErrDecode means a file exists but is not a readable checkpoint.
	ErrDecode = errors.New("checkpoint: cannot decode model file")
)

type header struct {
	Version  string           `cbor:"version"`
	SavedAt  time.Time        `cbor:"saved_at"`
	Accuracy float64          `cbor:"val_accuracy"`
	Params   model.Parameters `cbor:"params"`
}

// FileName returns the checkpoint name for a run finished at `at` with the
// given validation accuracy in percent.
func FileName(at time.Time, valAcc float64) string {
	return fmt.Sprintf("model_%s_%.2f%s", at.Format(timeLayout), valAcc, Ext)
}

// Save writes params into dir and returns the file path. An existing file is
// never overwritten.
func Save(dir string, params model.Parameters, valAcc float64, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	path := filepath.Join(dir, FileName(at, valAcc))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create checkpoint: %w", err)
	}
	if err := encode(f, header{Version: Version1, SavedAt: at.UTC(), Accuracy: valAcc, Params: params}); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close checkpoint: %w", err)
	}
	return path, nil
}

// encode writes a compressed blob to w.
func encode(w io.Writer, h header) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := cbor.NewEncoder(zw).Encode(h); err != nil {
		zw.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	return nil
}

// Load reads the parameters stored at path.
func Load(path string) (model.Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoModel, path)
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	defer zr.Close()

	var h header
	if err := decMode.NewDecoder(zr).Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	if h.Version != Version1 {
		return nil, fmt.Errorf("%w: %s: unsupported version %q", ErrDecode, path, h.Version)
	}
	if len(h.Params) == 0 {
		return nil, fmt.Errorf("%w: %s: no parameters", ErrDecode, path)
	}
	return h.Params, nil
}

// Latest returns the most recently modified checkpoint in dir. The file name
// plays no part in the choice.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoModel, dir)
		}
		return "", fmt.Errorf("read model dir: %w", err)
	}
	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = entry.Name()
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w in %s", ErrNoModel, dir)
	}
	return filepath.Join(dir, best), nil
}

// PlotPath returns the path in plotDir sharing the checkpoint's base name.
func PlotPath(plotDir, modelPath, ext string) string {
	base := strings.TrimSuffix(filepath.Base(modelPath), Ext)
	return filepath.Join(plotDir, base+ext)
}
