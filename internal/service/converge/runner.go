package converge

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/whisperstream/dbt/internal/domain"
)

// Outcome pairs one request with its result or error.
type Outcome struct {
	Request domain.ConvergenceRequest
	Result  *domain.ConvergenceResult
	Err     error
}

// Runner drives many convergence calls. Distinct targets converge
// concurrently on independent sessions; calls against the same target
// identifier are serialized, since concurrent convergence of one
// target is unsafe.
type Runner struct {
	svc         *Service
	maxParallel int
}

// NewRunner creates a Runner. maxParallel <= 0 means no limit.
func NewRunner(svc *Service, maxParallel int) *Runner {
	return &Runner{svc: svc, maxParallel: maxParallel}
}

// Run converges every request and returns the outcomes in request
// order. Individual failures are reported per outcome and do not stop
// the remaining targets; only context cancellation does.
func (r *Runner) Run(ctx context.Context, reqs []domain.ConvergenceRequest) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	locks := make(map[string]*sync.Mutex, len(reqs))
	for _, req := range reqs {
		key := req.Target.Key()
		if _, ok := locks[key]; !ok {
			locks[key] = &sync.Mutex{}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			lock := locks[req.Target.Key()]
			lock.Lock()
			defer lock.Unlock()

			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Request: req, Err: err}
				return err
			}
			res, err := r.svc.Converge(ctx, req)
			outcomes[i] = Outcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
