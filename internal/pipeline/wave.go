package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/sourcegraph/conc"
)

// waveResult tallies the units of one wave.
type waveResult struct {
	succeeded int
	failed    int
}

// runWave runs n units concurrently, at most fanOut at a time, each under
// a Global then wave-Local admission token. Unit errors are counted; a panic
// in any unit is returned as an error once every unit has finished.
func (p *Pipeline) runWave(ctx context.Context, n, fanOut int, unit func(ctx context.Context, i int) error) (waveResult, error) {
	local := admission.NewLocal(fanOut)

	var (
		wg        conc.WaitGroup
		succeeded atomic.Int64
		failed    atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Go(func() {
			release, err := admission.Admit(ctx, p.global, local)
			if err != nil {
				failed.Add(1)
				return
			}
			defer release()

			if err := unit(ctx, i); err != nil {
				failed.Add(1)
				return
			}
			succeeded.Add(1)
		})
	}

	res := waveResult{}
	recovered := wg.WaitAndRecover()
	res.succeeded = int(succeeded.Load())
	res.failed = int(failed.Load())
	if recovered != nil {
		log.Printf("[SYNC] Wave unit panicked: %v\n%s", recovered.Value, recovered.Stack)
		return res, fmt.Errorf("wave unit panicked: %v", recovered.Value)
	}
	return res, nil
}

// retryStep runs op up to StepAttempts times with exponential backoff.
func retryStep[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.StepBackoff
	b.MaxInterval = cfg.StepMaxBackoff
	b.Multiplier = 2

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.StepAttempts)),
	)
}
