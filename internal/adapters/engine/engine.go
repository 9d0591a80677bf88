package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fluxwire-io/fluxwire/internal/adapters/template"
	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

// Engine executes compiled workflows level by level. Each run is driven
// by a single goroutine that owns the Execution snapshot; workers only
// hand results back over a channel, so no lock guards the snapshot.
type Engine struct {
	config   domain.EngineConfig
	registry ports.HandlerRegistry
	store    ports.ExecutionStore
	sink     ports.ProgressSink
	resolver *template.Resolver
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*runControl
}

// runControl is the handle Pause/Resume/Cancel use to reach into a live
// run without touching its snapshot.
type runControl struct {
	gate      *pauseGate
	cancel    context.CancelFunc
	cancelled *atomic.Bool
}

func New(config domain.EngineConfig, registry ports.HandlerRegistry, store ports.ExecutionStore, sink ports.ProgressSink, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: handler registry is required", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   config,
		registry: registry,
		store:    store,
		sink:     sink,
		resolver: template.New(),
		logger:   logger.With("component", "engine"),
		runs:     make(map[string]*runControl),
	}, nil
}

// Execute runs one workflow to a terminal state and returns its final
// snapshot. An empty executionID gets a fresh UUID; callers that need
// to Pause or Cancel mid-run supply their own. The returned error
// covers setup problems only; node-level failures are recorded on the
// snapshot.
func (e *Engine) Execute(ctx context.Context, executionID string, wf *domain.Workflow, compiled domain.CompileResult, inputs map[string]domain.Value) (*domain.Execution, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: workflow is required", domain.ErrInvalidInput)
	}
	if !compiled.Valid {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrInvalidGraph, wf.ID)
	}
	if executionID == "" {
		executionID = uuid.NewString()
	}

	snapshot, err := wf.Clone()
	if err != nil {
		return nil, fmt.Errorf("snapshot workflow %s: %w", wf.ID, err)
	}

	exec := domain.NewExecution(executionID, wf.ID, compiled.ExecutionOrder)
	if err := e.seedVariables(exec, snapshot, inputs); err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline := e.config.DeadlineFor(snapshot.Settings); deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	rs := &runState{
		wf:         snapshot,
		compiled:   compiled,
		exec:       exec,
		graph:      domain.NewGraphIndex(snapshot),
		policy:     snapshot.Settings.Policy(),
		sem:        make(chan struct{}, e.config.MaxParallelFor(snapshot.Settings)),
		gate:       newPauseGate(),
		cancelled:  &atomic.Bool{},
		forcedSkip: make(map[string]bool),
		taken:      make(map[string]string),
	}

	if err := e.register(exec.ID, &runControl{gate: rs.gate, cancel: cancel, cancelled: rs.cancelled}); err != nil {
		return nil, err
	}
	defer e.unregister(exec.ID)

	exec.Status = domain.ExecutionStatusRunning
	exec.StartedAt = time.Now().UTC()
	e.publish(exec.ID, domain.ExecutionStartedEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		TotalLevels: exec.TotalLevels,
		TotalNodes:  exec.TotalNodes,
		StartedAt:   exec.StartedAt,
	})
	e.save(exec)

	e.logger.Info("execution started",
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"levels", exec.TotalLevels,
		"nodes", exec.TotalNodes,
		"max_parallel", cap(rs.sem))

	e.runLevels(runCtx, rs)
	e.finalize(runCtx, rs)

	return exec, nil
}

// seedVariables layers declared defaults under caller-supplied inputs.
func (e *Engine) seedVariables(exec *domain.Execution, wf *domain.Workflow, inputs map[string]domain.Value) error {
	defaults := make(map[string]domain.Value, len(wf.Variables))
	for _, v := range wf.Variables {
		defaults[v.Name] = v.Default
	}
	normalized := make(map[string]domain.Value, len(inputs))
	for name, raw := range inputs {
		v, err := domain.NormalizeValue(raw)
		if err != nil {
			return fmt.Errorf("%w: input %q: %v", domain.ErrInvalidInput, name, err)
		}
		normalized[name] = v
	}
	merged, err := domain.MergeVariables(defaults, normalized)
	if err != nil {
		return fmt.Errorf("seed variables: %w", err)
	}
	exec.Variables = merged
	return nil
}

// Pause freezes dispatch of new levels and loop iterations. In-flight
// nodes finish normally; the snapshot flips to paused at the next
// dispatch boundary.
func (e *Engine) Pause(executionID string) error {
	rc, ok := e.control(executionID)
	if !ok {
		return fmt.Errorf("%w: execution %s", domain.ErrNotRunning, executionID)
	}
	if !rc.gate.Pause() {
		return fmt.Errorf("%w: execution %s already paused", domain.ErrAlreadyRunning, executionID)
	}
	return nil
}

// Resume releases a paused execution.
func (e *Engine) Resume(executionID string) error {
	rc, ok := e.control(executionID)
	if !ok {
		return fmt.Errorf("%w: execution %s", domain.ErrNotRunning, executionID)
	}
	if !rc.gate.Resume() {
		return fmt.Errorf("%w: execution %s", domain.ErrNotPaused, executionID)
	}
	return nil
}

// Cancel stops the run. In-flight handlers get CancelGrace to settle;
// everything not yet started is skipped.
func (e *Engine) Cancel(executionID string) error {
	rc, ok := e.control(executionID)
	if !ok {
		return fmt.Errorf("%w: execution %s", domain.ErrNotRunning, executionID)
	}
	rc.cancelled.Store(true)
	rc.gate.Resume()
	rc.cancel()
	return nil
}

// Running reports whether an execution is currently driven by this
// engine instance.
func (e *Engine) Running(executionID string) bool {
	_, ok := e.control(executionID)
	return ok
}

func (e *Engine) register(executionID string, rc *runControl) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.runs[executionID]; dup {
		return fmt.Errorf("%w: execution %s", domain.ErrAlreadyRunning, executionID)
	}
	e.runs[executionID] = rc
	return nil
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, executionID)
}

func (e *Engine) control(executionID string) (*runControl, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rc, ok := e.runs[executionID]
	return rc, ok
}

func (e *Engine) publish(executionID string, event domain.Event) {
	if e.sink != nil {
		e.sink.Publish(executionID, event)
	}
}

// save persists the snapshot if a store is wired. Persistence is best
// effort during a run; a failing store must not abort execution.
func (e *Engine) save(exec *domain.Execution) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveExecution(context.Background(), exec); err != nil {
		e.logger.Warn("execution snapshot save failed",
			"execution_id", exec.ID,
			"error", err)
	}
}

// pauseGate is a reusable latch: open by default, closed by Pause and
// reopened by Resume. The driver blocks on Wait at level boundaries.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{} // non-nil while paused
}

func newPauseGate() *pauseGate {
	return &pauseGate{}
}

func (g *pauseGate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		return false
	}
	g.ch = make(chan struct{})
	return true
}

func (g *pauseGate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		return false
	}
	close(g.ch)
	g.ch = nil
	return true
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// Wait blocks until the gate opens or ctx ends.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
