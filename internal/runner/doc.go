// Package runner is the load-generation engine that drives mqfire's virtual
// users.
//
// The runner orchestrates concurrent iterations with support for:
//   - A fixed pool of virtual users, each running its iterations sequentially
//   - Rate limiting (iterations per second)
//   - Duration-based and count-based termination, with an optional graceful stop
//   - Multiple arrival models (uniform, Poisson)
//   - Dynamic load patterns (ramp, step, spike)
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		VUs:           10,
//		Iterations:    1000,
//		Duration:      time.Minute,
//		RatePerSecond: 100,
//		NewVU: func(id int) runner.Iteration {
//			vu := coord.NewVU(id)
//			return runner.IterationFunc(func(ctx context.Context) error {
//				return coord.Iterate(ctx, vu)
//			})
//		},
//	})
//	result := r.Run(ctx)
//
// NewVU is called once per virtual user before the run starts. The returned
// [Iteration] is only ever invoked from that VU's goroutine.
//
// # Rate Limiting & Arrival Models
//
//   - [ArrivalModelUniform]: iterations start at fixed intervals
//   - [ArrivalModelPoisson]: exponential inter-arrival times for realistic traffic
//
// # Load Patterns
//
// A [LoadPattern] list overrides RatePerSecond with a time-varying profile:
//   - Ramp: gradual increase/decrease in rate
//   - Step: discrete rate changes over time
//   - Spike: a fixed rate for a short period
package runner
