package filter

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/wxapi/wechat"
)

// EvaluatorOption configures an evaluator
type EvaluatorOption func(*ConcurrentEvaluator)

// WithWorkers sets the number of worker goroutines
func WithWorkers(workers int) EvaluatorOption {
	return func(e *ConcurrentEvaluator) {
		if workers > 0 {
			e.workerCount = workers
		}
	}
}

// WithBatchSize sets the chunk size for concurrent evaluation
func WithBatchSize(size int) EvaluatorOption {
	return func(e *ConcurrentEvaluator) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// ConcurrentEvaluator implements BatchEvaluator
type ConcurrentEvaluator struct {
	workerCount int
	batchSize   int
}

// NewConcurrentEvaluator creates a new concurrent evaluator
func NewConcurrentEvaluator(opts ...EvaluatorOption) *ConcurrentEvaluator {
	e := &ConcurrentEvaluator{
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   100,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate returns the payloads matching filter, in input order
func (e *ConcurrentEvaluator) Evaluate(ctx context.Context, filter CompiledFilter, payloads []wechat.Payload) ([]wechat.Payload, error) {
	if len(payloads) == 0 {
		return []wechat.Payload{}, nil
	}

	// Small inputs are not worth the goroutines
	if len(payloads) <= e.batchSize {
		return evaluateSequential(filter, payloads), nil
	}

	return e.evaluateConcurrent(ctx, filter, payloads)
}

// EvaluateBatch evaluates every filter against payloads concurrently. The
// first error cancels the remaining filters.
func (e *ConcurrentEvaluator) EvaluateBatch(ctx context.Context, filters map[string]CompiledFilter, payloads []wechat.Payload) (map[string][]wechat.Payload, error) {
	results := make(map[string][]wechat.Payload, len(filters))
	if len(filters) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workerCount)

	for name, filter := range filters {
		g.Go(func() error {
			matches, err := e.Evaluate(ctx, filter, payloads)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = matches
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluateSequential(filter CompiledFilter, payloads []wechat.Payload) []wechat.Payload {
	matches := make([]wechat.Payload, 0, len(payloads))
	for _, p := range payloads {
		if filter.Evaluate(p) {
			matches = append(matches, p)
		}
	}
	return matches
}

// evaluateConcurrent splits payloads into chunks and evaluates them in
// parallel, keeping chunk order in the result
func (e *ConcurrentEvaluator) evaluateConcurrent(ctx context.Context, filter CompiledFilter, payloads []wechat.Payload) ([]wechat.Payload, error) {
	chunkSize := max(len(payloads)/e.workerCount, e.batchSize)
	chunkCount := (len(payloads) + chunkSize - 1) / chunkSize
	chunks := make([][]wechat.Payload, chunkCount)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workerCount)

	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(payloads))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunks[i] = evaluateSequential(filter, payloads[start:end])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	matches := make([]wechat.Payload, 0, total)
	for _, c := range chunks {
		matches = append(matches, c...)
	}
	return matches, nil
}
