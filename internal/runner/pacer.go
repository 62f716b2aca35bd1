package runner

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces out iteration starts.
type pacer interface {
	Wait(ctx context.Context) error
	SetRate(rps float64)
}

func newPacer(opt Options, prof *rateProfile) pacer {
	initial := float64(opt.RatePerSecond)
	if prof != nil {
		initial, _ = prof.at(0)
	}

	if opt.ArrivalModel == ArrivalModelPoisson {
		sample := opt.PoissonSampler
		if sample == nil {
			sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		p := &poissonPacer{sample: sample}
		p.SetRate(initial)
		return p
	}

	l := &limiterPacer{limiter: opt.LimiterFactory(opt.RatePerSecond)}
	if prof != nil {
		l.SetRate(initial)
	}
	return l
}

// limiterPacer spaces starts evenly with a token bucket.
type limiterPacer struct {
	limiter *rate.Limiter
}

func (l *limiterPacer) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

func (l *limiterPacer) SetRate(rps float64) {
	if l.limiter == nil {
		return
	}
	if rps <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}
	l.limiter.SetLimit(rate.Limit(rps))
	l.limiter.SetBurst(max(1, int(math.Ceil(rps))))
}

// poissonPacer draws exponential gaps between starts, so arrivals form a
// Poisson process at the configured rate.
type poissonPacer struct {
	mu     sync.Mutex
	rps    float64
	sample func() float64
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	gap := p.gap()
	if gap <= 0 {
		return nil
	}
	timer := time.NewTimer(gap)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonPacer) SetRate(rps float64) {
	p.mu.Lock()
	p.rps = max(rps, 0)
	p.mu.Unlock()
}

func (p *poissonPacer) gap() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rps <= 0 || p.sample == nil {
		return 0
	}
	ns := p.sample() / p.rps * float64(time.Second)
	return time.Duration(math.Min(ns, math.MaxInt64))
}
