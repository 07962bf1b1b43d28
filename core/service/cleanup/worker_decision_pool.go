package cleanup

import (
	"context"
	"fmt"

	"github.com/go-pkgz/pool"
)

// decideJob is one indexed unit of the decision phase.
type decideJob struct {
	index int
}

// decideAll runs fn for every index in [0,n) on a bounded worker group and
// returns once all of them finished. Each fn owns its own result slot.
func decideAll(ctx context.Context, workers, n int, fn func(ctx context.Context, i int)) error {
	if n == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	worker := pool.WorkerFunc[*decideJob](func(ctx context.Context, job *decideJob) error {
		fn(ctx, job.index)
		return nil
	})

	wg := pool.New[*decideJob](workers, worker).
		WithWorkerChanSize(workers * 2).
		WithContinueOnError()

	if err := wg.Go(ctx); err != nil {
		return fmt.Errorf("start decision pool: %w", err)
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Submit(&decideJob{index: i})
	}
	if err := wg.Close(ctx); err != nil {
		return fmt.Errorf("decision pool: %w", err)
	}
	return ctx.Err()
}
