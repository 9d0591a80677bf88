// Package fluxwire compiles workflow graphs into leveled execution
// plans and runs them with bounded concurrency.
//
// A workflow is a directed graph of typed nodes: control blocks
// (start, end, condition, loop, delay, variable_set) the engine
// executes natively, and opaque blocks dispatched through a handler
// registry. Compilation validates the graph and assigns every node a
// level; execution walks the levels, running each level's nodes in
// parallel under the workflow's max_parallel cap. Features include:
//   - Template parameters ({{variable}}) resolved at dispatch time
//   - Conditional branching over true/false ports
//   - Loop bodies re-executed per element or while a condition holds
//   - Stop, continue and skip-branch error policies
//   - Pause, resume and cancel of live executions
//   - Progress streaming and pluggable persistence
//
// Basic usage:
//
//	rt, _ := fluxwire.New(fluxwire.DefaultConfig(), nil, logger)
//	rt.RegisterHandler("net.probe", probeHandler)
//
//	executionID, _ := rt.Execute(ctx, workflow, map[string]fluxwire.Value{
//	    "target": "10.0.0.1",
//	})
//	exec, _ := rt.Wait(ctx, executionID)
package fluxwire

import (
	"log/slog"

	"github.com/fluxwire-io/fluxwire/internal/adapters/storage"
	"github.com/fluxwire-io/fluxwire/internal/core"
	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

// Runtime is the main entry point: it owns the compiler, the handler
// registry, the execution engine and the progress sink.
type Runtime = core.Runtime

// Workflow is a persisted graph definition of typed nodes and edges.
type Workflow = domain.Workflow

// Node is one typed block in a workflow graph.
type Node = domain.Node

// Edge is a directed connection between two node ports.
type Edge = domain.Edge

// Settings hold per-workflow execution policy: timeout, error policy
// and the parallelism cap.
type Settings = domain.Settings

// Variable is a declared workflow variable with an optional default.
type Variable = domain.Variable

// Value is a template-resolvable parameter or output value drawn from
// the closed set: nil, string, float64, bool, []Value, map[string]Value.
type Value = domain.Value

// CompileResult reports graph validity, findings and the leveled
// execution order.
type CompileResult = domain.CompileResult

// CompileError is a single validation finding.
type CompileError = domain.CompileError

// Execution is the runtime snapshot of one workflow run.
type Execution = domain.Execution

// ExecutionStatus is the run-level state machine.
type ExecutionStatus = domain.ExecutionStatus

// NodeExecutionStatus is the per-node progress record.
type NodeExecutionStatus = domain.NodeExecutionStatus

// Progress summarizes completion over the nodes still in play.
type Progress = domain.Progress

// Event is anything the engine publishes to progress subscribers.
type Event = domain.Event

// Config carries process-wide engine defaults.
type Config = domain.EngineConfig

// Handler is the capability behind an opaque block type.
type Handler = ports.Handler

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc = ports.HandlerFunc

// HandlerContext carries run-scoped metadata into a handler.
type HandlerContext = ports.HandlerContext

// ExecutionStore persists workflow definitions and execution snapshots.
type ExecutionStore = ports.ExecutionStore

// Control block types executed natively by the engine.
const (
	TypeStart       = domain.TypeStart
	TypeEnd         = domain.TypeEnd
	TypeDelay       = domain.TypeDelay
	TypeCondition   = domain.TypeCondition
	TypeLoop        = domain.TypeLoop
	TypeVariableSet = domain.TypeVariableSet
)

// Named node ports.
const (
	HandleTrue      = domain.HandleTrue
	HandleFalse     = domain.HandleFalse
	HandleIteration = domain.HandleIteration
	HandleComplete  = domain.HandleComplete
)

// Error policies selectable via Settings.OnError.
const (
	ErrorPolicyStop       = domain.ErrorPolicyStop
	ErrorPolicyContinue   = domain.ErrorPolicyContinue
	ErrorPolicySkipBranch = domain.ErrorPolicySkipBranch
)

// Execution statuses.
const (
	StatusPending   = domain.ExecutionStatusPending
	StatusRunning   = domain.ExecutionStatusRunning
	StatusPaused    = domain.ExecutionStatusPaused
	StatusCompleted = domain.ExecutionStatusCompleted
	StatusFailed    = domain.ExecutionStatusFailed
	StatusCancelled = domain.ExecutionStatusCancelled
)

// Sentinel errors surfaced by the runtime.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidGraph = domain.ErrInvalidGraph
	ErrNotRunning   = domain.ErrNotRunning
	ErrNotPaused    = domain.ErrNotPaused
	ErrClosed       = domain.ErrClosed
)

// DefaultConfig returns the engine defaults: four workers per
// execution, a sixty-second handler timeout and no run deadline.
func DefaultConfig() Config {
	return domain.DefaultEngineConfig()
}

// New assembles a Runtime. The store may be nil for purely in-process
// use; NewWithBadger wires the embedded store instead.
func New(config Config, store ExecutionStore, logger *slog.Logger) (*Runtime, error) {
	return core.NewRuntime(config, store, logger)
}

// NewWithBadger assembles a Runtime persisting workflows and execution
// snapshots to an embedded Badger database at path.
func NewWithBadger(config Config, path string, logger *slog.Logger) (*Runtime, error) {
	store, err := storage.OpenBadger(path, logger)
	if err != nil {
		return nil, err
	}
	return core.NewRuntime(config, store, logger)
}

// NewMemoryStore returns an in-memory ExecutionStore, mainly for tests
// and ephemeral runs.
func NewMemoryStore() ExecutionStore {
	return storage.NewMemory()
}
