// Package lifecycle runs a load test's setup, per-iteration and teardown
// hooks against the queue client, with a barrier on either side of the
// iteration phase: no iteration starts before setup has succeeded, and
// teardown waits for every iteration in flight before it closes connections.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/mq"
)

// State is the coordinator's position in the run.
type State int

const (
	Idle State = iota
	SettingUp
	Ready
	IterationsRunning
	TearingDown
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SettingUp:
		return "setting_up"
	case Ready:
		return "ready"
	case IterationsRunning:
		return "iterations_running"
	case TearingDown:
		return "tearing_down"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrAlreadyStarted = errors.New("lifecycle: setup already started")
	ErrNotReady       = errors.New("lifecycle: setup has not completed")
	ErrRunFinished    = errors.New("lifecycle: run is no longer accepting iterations")
)

// SetupError is returned when the setup hook fails. The run is aborted.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string { return fmt.Sprintf("setup failed: %v", e.Err) }

func (e *SetupError) Unwrap() error { return e.Err }

// TeardownError collects everything that went wrong while tearing down.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string { return fmt.Sprintf("teardown: %v", e.Err) }

func (e *TeardownError) Unwrap() error { return e.Err }

// Hook is a script entry point. It receives the VU it runs as.
type Hook func(ctx context.Context, vu *VU) error

// Hooks are the script's entry points. Nil hooks are skipped.
type Hooks struct {
	Setup    Hook
	Default  Hook
	Teardown Hook
}

// Options wires a Coordinator to the queue client.
type Options struct {
	Manager  *mq.Manager
	Executor *mq.Executor
	Config   mq.ConnectionConfig
	Hooks    Hooks
	Logger   logrus.FieldLogger
}

// Coordinator sequences a run: Setup once, Iterate from any number of VUs
// concurrently, Teardown once.
type Coordinator struct {
	mgr   *mq.Manager
	exec  *mq.Executor
	cfg   mq.ConnectionConfig
	hooks Hooks
	log   logrus.FieldLogger

	mu       sync.Mutex
	state    State
	inflight sync.WaitGroup
}

func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	mgr := opts.Manager
	if mgr == nil {
		mgr = mq.NewManager(mq.ManagerOptions{Logger: log})
	}
	exec := opts.Executor
	if exec == nil {
		exec = mq.NewExecutor(mq.ExecutorOptions{})
	}
	return &Coordinator{
		mgr:   mgr,
		exec:  exec,
		cfg:   opts.Config,
		hooks: opts.Hooks,
		log:   log,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Manager returns the connection manager the run's VUs share.
func (c *Coordinator) Manager() *mq.Manager { return c.mgr }

// NewVU returns the handle for virtual user id. Each VU must be driven by a
// single goroutine.
func (c *Coordinator) NewVU(id int) *VU {
	return c.newVU(fmt.Sprintf("vu-%d", id), id)
}

func (c *Coordinator) newVU(owner string, id int) *VU {
	return &VU{
		id:    id,
		owner: owner,
		coord: c,
		log:   c.log.WithField("vu", owner),
	}
}

// Setup runs the setup hook. It may be called once; a failure aborts the run.
func (c *Coordinator) Setup(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = SettingUp
	c.mu.Unlock()

	var err error
	if c.hooks.Setup != nil {
		err = c.hooks.Setup(ctx, c.newVU("setup", 0))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Aborted
		c.log.WithError(err).Error("setup failed, aborting run")
		return &SetupError{Err: err}
	}
	c.state = Ready
	c.log.Debug("setup complete")
	return nil
}

// Iterate runs one default iteration as vu. It is rejected before setup has
// completed and once teardown has begun.
func (c *Coordinator) Iterate(ctx context.Context, vu *VU) error {
	if err := c.admit(); err != nil {
		return err
	}
	defer c.inflight.Done()

	if c.hooks.Default == nil {
		return nil
	}
	return c.hooks.Default(ctx, vu)
}

func (c *Coordinator) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Ready, IterationsRunning:
		c.state = IterationsRunning
		c.inflight.Add(1)
		return nil
	case Idle, SettingUp:
		return ErrNotReady
	default:
		return ErrRunFinished
	}
}

// Teardown stops admitting iterations, waits for those in flight, runs the
// teardown hook and closes every connection. It may be called once. If ctx
// ends before the in-flight iterations do, the hook is skipped and the
// connections are closed underneath them.
func (c *Coordinator) Teardown(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Idle, SettingUp:
		c.mu.Unlock()
		return ErrNotReady
	case TearingDown, Done:
		c.mu.Unlock()
		return ErrRunFinished
	}
	aborted := c.state == Aborted
	c.state = TearingDown
	c.mu.Unlock()

	var errs *multierror.Error

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		if c.hooks.Teardown != nil && !aborted {
			if err := c.hooks.Teardown(ctx, c.newVU("teardown", 0)); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("teardown hook: %w", err))
			}
		}
	case <-ctx.Done():
		c.log.Warn("teardown deadline reached with iterations still in flight")
		errs = multierror.Append(errs, fmt.Errorf("waiting for iterations: %w", ctx.Err()))
	}

	if err := c.mgr.CloseAll(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("closing connections: %w", err))
	}

	c.mu.Lock()
	c.state = Done
	c.mu.Unlock()

	if err := errs.ErrorOrNil(); err != nil {
		c.log.WithError(err).Warn("teardown finished with errors")
		return &TeardownError{Err: err}
	}
	c.log.Debug("teardown complete")
	return nil
}
