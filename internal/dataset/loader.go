package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"digitsketch/internal/preprocess"
)

// LoaderOptions configures the ordered batch loader.
type LoaderOptions struct {
	Samples    []Sample
	BatchSize  int
	NumWorkers int
	// Augment enables training-time jitter, seeded per batch from Seed.
	Augment bool
	Seed    int64
	// PendingCap bounds batches decoded ahead of the consumer.
	PendingCap int
}

// SampleError records a sample that could not be turned into a tensor.
type SampleError struct {
	Sample Sample
	Err    error
}

func (e SampleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sample.Path, e.Err)
}

func (e SampleError) Unwrap() error { return e.Err }

// Batch is one mini-batch. Failed lists the samples dropped from it.
type Batch struct {
	Index  int
	Inputs []preprocess.Tensor
	Labels []int
	Failed []SampleError
}

// Len is the number of usable samples in the batch.
func (b Batch) Len() int { return len(b.Inputs) }

// NumBatches is the number of batches n samples split into.
func NumBatches(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

// StartLoader decodes batches on NumWorkers goroutines and emits them strictly
// in order. The channel closes after the last batch or when ctx is done.
func StartLoader(ctx context.Context, opts LoaderOptions) (<-chan Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.New("loader: batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = opts.NumWorkers * 2
	}

	total := NumBatches(len(opts.Samples), opts.BatchSize)
	jobs := make(chan batchJob, opts.NumWorkers)
	results := make(chan Batch, opts.NumWorkers)
	out := make(chan Batch)
	slots := make(chan struct{}, opts.PendingCap)

	go produceJobs(ctx, jobs, slots, opts.Samples, opts.BatchSize, total)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, results, opts)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(out)
		runAggregator(ctx, results, out, slots)
	}()

	return out, nil
}

type batchJob struct {
	id      int
	samples []Sample
}

func produceJobs(ctx context.Context, jobs chan<- batchJob, slots chan<- struct{}, samples []Sample, batchSize, total int) {
	defer close(jobs)
	for id := 0; id < total; id++ {
		start := id * batchSize
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- batchJob{id: id, samples: samples[start:end]}:
		}
	}
}

func worker(ctx context.Context, jobs <-chan batchJob, results chan<- Batch, opts LoaderOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			batch := buildBatch(job, opts)
			select {
			case <-ctx.Done():
				return
			case results <- batch:
			}
		}
	}
}

func buildBatch(job batchJob, opts LoaderOptions) Batch {
	pre := preprocess.New()
	if opts.Augment {
		pre = preprocess.NewTraining(rand.New(rand.NewSource(batchSeed(opts.Seed, job.id))))
	}
	batch := Batch{
		Index:  job.id,
		Inputs: make([]preprocess.Tensor, 0, len(job.samples)),
		Labels: make([]int, 0, len(job.samples)),
	}
	for _, s := range job.samples {
		tensor, err := pre.FromFile(s.Path)
		if err != nil {
			batch.Failed = append(batch.Failed, SampleError{Sample: s, Err: err})
			continue
		}
		batch.Inputs = append(batch.Inputs, tensor)
		batch.Labels = append(batch.Labels, s.Label)
	}
	return batch
}

// batchSeed derives a per-batch seed so jitter does not depend on which
// worker picked the batch up.
func batchSeed(seed int64, id int) int64 {
	return seed*1_000_003 + int64(id)
}

func runAggregator(ctx context.Context, results <-chan Batch, out chan<- Batch, slots <-chan struct{}) {
	pending := make(map[int]Batch)
	next := 0
	for {
		batch, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-results:
				if !ok {
					return
				}
				pending[b.Index] = b
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- batch:
		}
		delete(pending, next)
		<-slots
		next++
	}
}
