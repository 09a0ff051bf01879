package pipeline

import (
	"context"
	"log"

	"github.com/sourcegraph/conc"
)

// InlineRunner executes runs on goroutines of the current process. It is
// used by the CLI and when the durable task queue is disabled; a run
// interrupted here is only picked up again by an explicit resume.
type InlineRunner struct {
	pipeline *Pipeline
	ctx      context.Context
	wg       conc.WaitGroup
}

func NewInlineRunner(ctx context.Context, p *Pipeline) *InlineRunner {
	return &InlineRunner{pipeline: p, ctx: ctx}
}

func (r *InlineRunner) EnqueueSyncRun(_ context.Context, runID string) (string, error) {
	r.wg.Go(func() {
		if err := r.pipeline.Run(r.ctx, runID); err != nil {
			log.Printf("[SYNC] Run %s ended with error: %v", runID, err)
		}
	})
	return "", nil
}

// Wait blocks until every run started by this runner has returned.
func (r *InlineRunner) Wait() {
	r.wg.Wait()
}
