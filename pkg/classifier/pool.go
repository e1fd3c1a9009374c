package classifier

import (
	"context"
	"fmt"
	"runtime"

	"playproof/pkg/feature"
)

// Pool bounds concurrent inference to the available compute. Infer is
// CPU-bound; running it unbounded per request would let a burst of
// scoring traffic starve the process.
type Pool struct {
	sem chan struct{}
}

// NewPool creates an inference pool with the given number of slots;
// size <= 0 uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: make(chan struct{}, size)}
}

type inferResult struct {
	pred Prediction
	err  error
}

// Infer runs m.Infer on a pool slot. It respects ctx both while
// waiting for a slot and while inference runs: on deadline expiry the
// in-flight inference is abandoned (the goroutine releases its slot
// when it finishes) and the context error is returned immediately.
func (p *Pool) Infer(ctx context.Context, m Model, fv feature.Vector) (Prediction, error) {
	if m == nil {
		return Prediction{}, fmt.Errorf("%w: nil model", ErrModelUnavailable)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Prediction{}, ctx.Err()
	}

	ch := make(chan inferResult, 1)
	go func() {
		defer func() { <-p.sem }()
		pred, err := m.Infer(ctx, fv)
		ch <- inferResult{pred, err}
	}()

	select {
	case res := <-ch:
		return res.pred, res.err
	case <-ctx.Done():
		return Prediction{}, ctx.Err()
	}
}
