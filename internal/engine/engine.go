package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/config"
	"github.com/JamesPaynter/mycelium/internal/controlplane"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
	"github.com/JamesPaynter/mycelium/internal/vcs"
)

// Options assembles an Engine from its capabilities. VCS, Worker, and
// Store are required; the rest default to no-ops or real implementations
// chosen by the caller.
type Options struct {
	Config   *config.Config
	Paths    *paths.Context
	Catalog  *manifest.Catalog
	Store    *state.Store
	Log      *events.Log
	VCS      vcs.VCS
	Worker   WorkerRunner
	Validate ValidatorRunner
	Doctor   DoctorRunner
	Comply   CompliancePipeline
	History  History
	Model    *controlplane.Model
	Stop     *StopSignal
	Clock    Clock
	RunID    string
}

// Engine drives one run. All RunState mutations happen under mu and are
// persisted before control returns to the caller; a persist failure aborts
// the run rather than continuing with stale durable state.
type Engine struct {
	cfg     *config.Config
	paths   *paths.Context
	catalog *manifest.Catalog
	store   *state.Store
	log     *events.Log
	vcs     vcs.VCS
	worker  WorkerRunner
	valid   ValidatorRunner
	doctor  DoctorRunner
	comply  CompliancePipeline
	history History
	model   *controlplane.Model
	tracker *budget.Tracker
	stop    *StopSignal
	now     Clock
	runID   string

	mu sync.Mutex
	st *state.RunState

	// resumedFromRunning holds task IDs reverted from running during crash
	// recovery; their next attempt goes through ResumeAttempt.
	resumedFromRunning map[string]bool

	// stops accumulates WorkerRunner.Stop outcomes issued for in-flight
	// attempts after a container-kill request.
	stops StopResult
}

// New builds an Engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.Paths == nil || opts.Catalog == nil || opts.Store == nil {
		return nil, fmt.Errorf("engine: config, paths, catalog, and store are required")
	}
	if opts.VCS == nil {
		return nil, fmt.Errorf("engine: vcs capability is required")
	}
	if opts.Worker == nil {
		return nil, fmt.Errorf("engine: worker capability is required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Stop == nil {
		opts.Stop = &StopSignal{}
	}
	return &Engine{
		cfg:                opts.Config,
		paths:              opts.Paths,
		catalog:            opts.Catalog,
		store:              opts.Store,
		log:                opts.Log,
		vcs:                opts.VCS,
		worker:             opts.Worker,
		valid:              opts.Validate,
		doctor:             opts.Doctor,
		comply:             opts.Comply,
		history:            opts.History,
		model:              opts.Model,
		tracker:            budget.NewTracker(opts.Config.Budgets),
		stop:               opts.Stop,
		now:                opts.Clock,
		runID:              opts.RunID,
		resumedFromRunning: make(map[string]bool),
	}, nil
}

// RunID returns the engine's run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// State returns the in-memory run state. Callers must not mutate it.
func (e *Engine) State() *state.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// checkpoint persists the current state. Must be called with mu held.
// A write failure is fatal to the run.
func (e *Engine) checkpoint() error {
	if err := e.store.Save(e.st); err != nil {
		return fmt.Errorf("state checkpoint failed, aborting run: %w", err)
	}
	return nil
}

// emit appends an event to the orchestrator log. Log failures are not
// fatal; durable truth lives in the state snapshot.
func (e *Engine) emit(ev events.Event) {
	if e.log == nil {
		return
	}
	_, _ = e.log.Append(ev)
}

// mutate runs fn under the controller lock and checkpoints the result.
func (e *Engine) mutate(fn func(st *state.RunState) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.st); err != nil {
		return err
	}
	return e.checkpoint()
}

// tallyStop records the outcome of one best-effort worker stop.
func (e *Engine) tallyStop(res StopResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops.Stopped += res.Stopped
	e.stops.Errors += res.Errors
	if err != nil {
		e.stops.Errors++
	}
}

func (e *Engine) workerTimeout() time.Duration {
	return time.Duration(e.cfg.Worker.TimeoutSeconds) * time.Second
}

func (e *Engine) doctorTimeout() time.Duration {
	return time.Duration(e.cfg.DoctorTimeoutSeconds) * time.Second
}
