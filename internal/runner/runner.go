package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const profileTick = 100 * time.Millisecond

// Result captures execution summary. Total counts iterations that ran;
// Cancelled ones were cut short by the end of the run and are not Errors.
type Result struct {
	Total     int64
	Errors    int64
	Cancelled int64
	Duration  time.Duration
}

// Runner drives a fixed pool of virtual users with rate limiting. Each VU
// runs its iterations sequentially; VUs run concurrently.
type Runner struct {
	opt     Options
	profile *rateProfile
	pacer   pacer
}

func New(opt Options) *Runner {
	opt.normalize()
	profile := newRateProfile(opt.LoadPatterns)
	return &Runner{opt: opt, profile: profile, pacer: newPacer(opt, profile)}
}

func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	var total, errs, cancelled int64

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	if r.profile != nil {
		// The run ends with the profile.
		profileCtx, endProfile := context.WithCancel(ctx)
		ctx = profileCtx
		go r.followProfile(profileCtx, endProfile)
	}

	permits := make(chan struct{}, r.opt.VUs)

	// Scheduler: serializes rate limiting to avoid burst overshoot across workers.
	go func() {
		defer close(permits)
		var scheduled int64
		for {
			if ctx.Err() != nil {
				return
			}
			if r.opt.Iterations > 0 && scheduled >= int64(r.opt.Iterations) {
				return
			}
			if err := r.pacer.Wait(ctx); err != nil {
				return
			}
			scheduled++
			select {
			case permits <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Iterations in flight when scheduling stops get GracefulStop to finish.
	iterCtx, iterCancel := context.WithCancel(parent)
	defer iterCancel()
	stopIterations := context.AfterFunc(ctx, func() {
		if r.opt.GracefulStop <= 0 {
			iterCancel()
			return
		}
		time.AfterFunc(r.opt.GracefulStop, iterCancel)
	})
	defer stopIterations()

	var wg sync.WaitGroup
	wg.Add(r.opt.VUs)
	for i := 1; i <= r.opt.VUs; i++ {
		var it Iteration
		if r.opt.NewVU != nil {
			it = r.opt.NewVU(i)
		}
		go func() {
			defer wg.Done()
			for range permits {
				if it != nil {
					err := it.Run(iterCtx)
					switch {
					case err == nil:
					case iterCtx.Err() != nil && errors.Is(err, context.Canceled):
						atomic.AddInt64(&cancelled, 1)
					default:
						atomic.AddInt64(&errs, 1)
					}
				}
				atomic.AddInt64(&total, 1)
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Total:     atomic.LoadInt64(&total),
		Errors:    atomic.LoadInt64(&errs),
		Cancelled: atomic.LoadInt64(&cancelled),
		Duration:  time.Since(start),
	}
}

// followProfile retunes the pacer every profileTick and calls done once the
// profile has run its course.
func (r *Runner) followProfile(ctx context.Context, done context.CancelFunc) {
	defer done()

	start := time.Now()
	ticker := time.NewTicker(profileTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rps, ok := r.profile.at(time.Since(start))
			if !ok {
				return
			}
			r.pacer.SetRate(rps)
		}
	}
}
