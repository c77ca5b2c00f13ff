package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureSamples(t *testing.T, n int) []Sample {
	t.Helper()
	dir := t.TempDir()
	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		label := i % NumClasses
		path := filepath.Join(dir, fmt.Sprint(label), fmt.Sprintf("%d.png", i))
		writePNG(t, path, 10+i)
		samples[i] = Sample{Path: path, Label: label}
	}
	return samples
}

func collect(t *testing.T, opts LoaderOptions) []Batch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := StartLoader(ctx, opts)
	require.NoError(t, err)
	var out []Batch
	for b := range stream {
		out = append(out, b)
	}
	require.NoError(t, ctx.Err())
	return out
}

func TestLoaderOrderedBatches(t *testing.T) {
	samples := fixtureSamples(t, 11)
	batches := collect(t, LoaderOptions{Samples: samples, BatchSize: 4, NumWorkers: 3})

	require.Len(t, batches, 3)
	var labels []int
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Empty(t, b.Failed)
		labels = append(labels, b.Labels...)
	}
	assert.Equal(t, []int{4, 4, 3}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
	for i, s := range samples {
		assert.Equal(t, s.Label, labels[i])
	}
}

func TestLoaderRecordsFailedSamples(t *testing.T) {
	samples := fixtureSamples(t, 4)
	bad := filepath.Join(filepath.Dir(samples[1].Path), "99.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	samples = append(samples, Sample{Path: bad, Label: 1}, Sample{Path: "/does/not/exist/5.png", Label: 2})

	batches := collect(t, LoaderOptions{Samples: samples, BatchSize: 3, NumWorkers: 2})
	require.Len(t, batches, 2)
	assert.Equal(t, 3, batches[0].Len())
	assert.Equal(t, 1, batches[1].Len())
	require.Len(t, batches[1].Failed, 2)
	assert.ErrorIs(t, batches[1].Failed[0], ErrBadFormat)
	assert.ErrorIs(t, batches[1].Failed[1], ErrNotFound)
}

func TestLoaderAugmentDeterministic(t *testing.T) {
	samples := fixtureSamples(t, 6)
	opts := LoaderOptions{Samples: samples, BatchSize: 2, NumWorkers: 3, Augment: true, Seed: 9}
	a := collect(t, opts)
	b := collect(t, opts)
	require.Len(t, a, 3)
	for i := range a {
		assert.Equal(t, a[i].Inputs, b[i].Inputs)
	}
}

func TestLoaderEmptyAndInvalid(t *testing.T) {
	assert.Empty(t, collect(t, LoaderOptions{BatchSize: 4}))
	_, err := StartLoader(context.Background(), LoaderOptions{})
	assert.Error(t, err)
}

func TestLoaderCancel(t *testing.T) {
	samples := fixtureSamples(t, 20)
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := StartLoader(ctx, LoaderOptions{Samples: samples, BatchSize: 1, NumWorkers: 2})
	require.NoError(t, err)
	<-stream
	cancel()
	done := make(chan struct{})
	go func() {
		for range stream {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loader did not stop after cancel")
	}
}

func TestNumBatches(t *testing.T) {
	assert.Equal(t, 0, NumBatches(0, 4))
	assert.Equal(t, 1, NumBatches(4, 4))
	assert.Equal(t, 2, NumBatches(5, 4))
	assert.Equal(t, 0, NumBatches(5, 0))
}
