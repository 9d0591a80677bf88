package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxwire-io/fluxwire/internal/adapters/compiler"
	"github.com/fluxwire-io/fluxwire/internal/adapters/engine"
	"github.com/fluxwire-io/fluxwire/internal/adapters/events"
	"github.com/fluxwire-io/fluxwire/internal/adapters/registry"
	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

// Runtime wires the compiler, handler registry, execution engine,
// progress sink and store into one lifecycle. It is the only entry
// point the public facade talks to.
type Runtime struct {
	config   domain.EngineConfig
	compiler *compiler.Compiler
	registry *registry.Registry
	engine   *engine.Engine
	events   *events.Manager
	store    ports.ExecutionStore
	logger   *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan *domain.Execution
	closed  bool
}

// NewRuntime assembles a runtime. The store may be nil for purely
// in-process use; everything else is constructed here.
func NewRuntime(config domain.EngineConfig, store ports.ExecutionStore, logger *slog.Logger) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(config.HandlerTimeout, logger)
	evm := events.NewManager(config.EventBuffer, logger)
	eng, err := engine.New(config, reg, store, evm, logger)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		config:   config,
		compiler: compiler.New(logger),
		registry: reg,
		engine:   eng,
		events:   evm,
		store:    store,
		logger:   logger.With("component", "runtime"),
		waiters:  make(map[string]chan *domain.Execution),
	}, nil
}

// RegisterHandler binds a block type to a capability.
func (r *Runtime) RegisterHandler(blockType string, handler ports.Handler) error {
	return r.registry.Register(blockType, handler)
}

// Handlers lists the registered block types.
func (r *Runtime) Handlers() []string {
	return r.registry.Types()
}

// Compile validates a workflow and returns its execution plan without
// running anything.
func (r *Runtime) Compile(wf *domain.Workflow) domain.CompileResult {
	return r.compiler.Compile(wf)
}

// SaveWorkflow persists a workflow definition if a store is wired.
func (r *Runtime) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if r.store == nil {
		return fmt.Errorf("%w: no store configured", domain.ErrInvalidInput)
	}
	return r.store.SaveWorkflow(ctx, wf)
}

// LoadWorkflow fetches a persisted workflow definition.
func (r *Runtime) LoadWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrInvalidInput)
	}
	return r.store.LoadWorkflow(ctx, id)
}

// Execute compiles and starts a workflow asynchronously, returning the
// execution id immediately. Compilation failures are returned inline;
// runtime outcomes land on the snapshot and the finished event.
func (r *Runtime) Execute(ctx context.Context, wf *domain.Workflow, inputs map[string]domain.Value) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", domain.ErrClosed
	}
	r.mu.Unlock()

	compiled := r.compiler.Compile(wf)
	if !compiled.Valid {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidGraph, compileSummary(compiled))
	}

	executionID := uuid.NewString()
	done := make(chan *domain.Execution, 1)
	r.mu.Lock()
	r.waiters[executionID] = done
	r.mu.Unlock()

	go func() {
		exec, err := r.engine.Execute(ctx, executionID, wf, compiled, inputs)
		if err != nil {
			r.logger.Error("execution setup failed",
				"execution_id", executionID,
				"workflow_id", wf.ID,
				"error", err)
		}
		done <- exec
		close(done)
		r.events.CloseExecution(executionID)
	}()

	return executionID, nil
}

// ExecuteSync runs a workflow to its terminal state and returns the
// final snapshot.
func (r *Runtime) ExecuteSync(ctx context.Context, wf *domain.Workflow, inputs map[string]domain.Value) (*domain.Execution, error) {
	executionID, err := r.Execute(ctx, wf, inputs)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx, executionID)
}

// Wait blocks until the execution reaches a terminal state and returns
// its final snapshot.
func (r *Runtime) Wait(ctx context.Context, executionID string) (*domain.Execution, error) {
	r.mu.Lock()
	done, ok := r.waiters[executionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", domain.ErrNotFound, executionID)
	}

	select {
	case exec := <-done:
		r.mu.Lock()
		delete(r.waiters, executionID)
		r.mu.Unlock()
		if exec == nil {
			return nil, fmt.Errorf("%w: execution %s never started", domain.ErrNotFound, executionID)
		}
		return exec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams progress events for one execution. The cancel
// function detaches the subscriber; the channel also closes when the
// execution finalizes.
func (r *Runtime) Subscribe(executionID string) (<-chan domain.Event, func()) {
	return r.events.Subscribe(executionID)
}

// Pause freezes a running execution at its next level boundary.
func (r *Runtime) Pause(executionID string) error {
	return r.engine.Pause(executionID)
}

// Resume releases a paused execution.
func (r *Runtime) Resume(executionID string) error {
	return r.engine.Resume(executionID)
}

// Cancel stops a running execution.
func (r *Runtime) Cancel(executionID string) error {
	return r.engine.Cancel(executionID)
}

// LoadExecution fetches a persisted execution snapshot.
func (r *Runtime) LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrInvalidInput)
	}
	return r.store.LoadExecution(ctx, executionID)
}

// ListExecutions returns the persisted executions of one workflow.
func (r *Runtime) ListExecutions(ctx context.Context, workflowID string) ([]*domain.Execution, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrInvalidInput)
	}
	return r.store.ListExecutions(ctx, workflowID)
}

// Close tears down the event manager and the store. Live executions
// keep running on their caller-supplied contexts; callers wanting a
// hard stop cancel those contexts first.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	r.events.Close()
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

func compileSummary(result domain.CompileResult) string {
	for _, f := range result.Errors {
		if f.Fatal() {
			return f.Message
		}
	}
	return "compilation failed"
}
