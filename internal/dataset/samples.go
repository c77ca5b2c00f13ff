package dataset

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"digitsketch/internal/preprocess"
)

// NumClasses is the number of digit classes, one directory each.
const NumClasses = 10

var (
	// ErrNoSamples means no valid sample exists under the dataset root.
	ErrNoSamples = errors.New("dataset: no samples found")
	// ErrTooSmall means a split would leave one side empty.
	ErrTooSmall = errors.New("dataset: too few samples to split")

	// ErrNotFound means a sample path does not exist.
	ErrNotFound = preprocess.ErrNotFound
	// ErrBadFormat means a sample exists but is not a decodable image.
	ErrBadFormat = preprocess.ErrBadFormat
)

var sampleRegexp = regexp.MustCompile(`^([0-9]+)\.png$`)

// Sample is one labelled image on disk.
type Sample struct {
	Path  string
	Label int
}

// Discover lists the samples stored directly inside <root>/0 .. <root>/9.
// The label is the directory name; only <numeric-stem>.png files count.
// Results are ordered by label, then numerically by stem.
func Discover(root string) ([]Sample, error) {
	var samples []Sample
	for label := 0; label < NumClasses; label++ {
		dir := filepath.Join(root, strconv.Itoa(label))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", dir, err)
		}
		stems := make(map[string]string, len(entries))
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			m := sampleRegexp.FindStringSubmatch(entry.Name())
			if m == nil {
				continue
			}
			stems[entry.Name()] = m[1]
			names = append(names, entry.Name())
		}
		sort.Slice(names, func(i, j int) bool {
			return lessNumeric(stems[names[i]], stems[names[j]], names[i], names[j])
		})
		for _, name := range names {
			samples = append(samples, Sample{Path: filepath.Join(dir, name), Label: label})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSamples, root)
	}
	return samples, nil
}

func lessNumeric(a, b, nameA, nameB string) bool {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	if a != b {
		return a < b
	}
	return nameA < nameB
}

// Load decodes one sample. It wraps ErrNotFound for a missing path and
// ErrBadFormat for content that is not an image.
func Load(path string) (image.Image, error) {
	return preprocess.Open(path)
}

// Split partitions samples into training and validation sets with a seeded
// permutation, so the same input and seed always give the same partition.
func Split(samples []Sample, valFraction float64, seed int64) (train, val []Sample, err error) {
	n := len(samples)
	nTrain := int((1 - valFraction) * float64(n))
	if nTrain <= 0 || nTrain >= n {
		return nil, nil, fmt.Errorf("%w: %d samples, val_fraction %g", ErrTooSmall, n, valFraction)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	train = make([]Sample, 0, nTrain)
	val = make([]Sample, 0, n-nTrain)
	for i, idx := range perm {
		if i < nTrain {
			train = append(train, samples[idx])
		} else {
			val = append(val, samples[idx])
		}
	}
	return train, val, nil
}

// Shuffle returns a seeded permutation of samples without touching the input.
func Shuffle(samples []Sample, seed int64) []Sample {
	out := append([]Sample(nil), samples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
