package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Iteration runs one scripted iteration on behalf of a virtual user.
// Implementations should return an error for failed iterations.
type Iteration interface {
	Run(ctx context.Context) error
}

// IterationFunc adapts a function to Iteration.
type IterationFunc func(ctx context.Context) error

func (f IterationFunc) Run(ctx context.Context) error { return f(ctx) }

// ArrivalModel selects how iteration start times are spaced.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type LoadPatternType string

const (
	LoadPatternTypeRamp  LoadPatternType = "ramp"
	LoadPatternTypeStep  LoadPatternType = "step"
	LoadPatternTypeSpike LoadPatternType = "spike"
)

// LoadPattern is one phase of a rate profile.
type LoadPattern struct {
	Name     string
	Type     LoadPatternType
	FromRPS  int
	ToRPS    int
	Duration time.Duration
	Steps    []LoadStep
	RPS      int
}

type LoadStep struct {
	RPS      int
	Duration time.Duration
}

// Options configure the Runner.
type Options struct {
	VUs            int                       // number of virtual users, one goroutine each
	Iterations     int                       // total iterations to execute (0 means unlimited until duration/end)
	Duration       time.Duration             // overall time limit (0 means no duration cap)
	RatePerSecond  int                       // iterations per second pacing (0 means unlimited)
	NewVU          func(id int) Iteration    // builds the iteration driver for VU id (1-based, required)
	GracefulStop   time.Duration             // time in-flight iterations get after the run ends (0 cancels them)
	LoadPatterns   []LoadPattern             // optional rate profile; overrides RatePerSecond
	ArrivalModel   ArrivalModel              // uniform (default) or poisson
	RandomSeed     int64                     // seed for poisson sampling
	PoissonSampler func() float64            // optional injection for tests
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.VUs <= 0 {
		o.VUs = 1
	}
	if o.Iterations < 0 {
		o.Iterations = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.GracefulStop < 0 {
		o.GracefulStop = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
