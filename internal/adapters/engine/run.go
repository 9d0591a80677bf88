package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

// errRunHalted signals that a level or iteration stopped early because
// the stop policy fired or the run was cancelled.
var errRunHalted = errors.New("run halted")

// runState is everything one execution's driver goroutine owns. Only
// cancelled and gate are touched from outside the driver.
type runState struct {
	wf       *domain.Workflow
	compiled domain.CompileResult
	exec     *domain.Execution
	graph    *domain.GraphIndex
	policy   domain.ErrorPolicy

	sem       chan struct{}
	gate      *pauseGate
	cancelled *atomic.Bool

	// Driver-only bookkeeping.
	forcedSkip map[string]bool   // downstream closure of skip-branch failures
	taken      map[string]string // condition node id -> handle taken
	aborted    bool              // stop policy fired
	graceStart time.Time
}

// nodeOutcome is the message a worker sends back to the driver. A
// worker sends one started marker after it acquires a pool slot, then
// exactly one settled outcome.
type nodeOutcome struct {
	nodeID  string
	started bool

	output domain.Value
	err    error

	taken    string // condition nodes: handle taken
	setName  string // variable_set nodes
	setValue domain.Value
	hasSet   bool
}

// launch pairs a node with its dispatch-time resolved parameters and
// variable snapshot so workers never read shared state.
type launch struct {
	node   *domain.Node
	params map[string]domain.Value
	vars   map[string]domain.Value
}

// runLevels drives the main walk over the compiled order. Loop bodies
// are excluded here; they re-execute under their owning loop node.
func (e *Engine) runLevels(ctx context.Context, rs *runState) {
	for levelIdx, ids := range rs.compiled.ExecutionOrder {
		if rs.aborted || rs.cancelled.Load() || ctx.Err() != nil {
			return
		}
		if err := e.waitIfPaused(ctx, rs); err != nil {
			return
		}
		rs.exec.CurrentLevel = levelIdx
		e.dispatchLevel(ctx, rs, ids, nil)
		e.save(rs.exec)
	}
	if !rs.aborted && !rs.cancelled.Load() && ctx.Err() == nil {
		rs.exec.CurrentLevel = rs.exec.TotalLevels
	}
}

// waitIfPaused parks the driver while the pause gate is closed. The
// snapshot flips to paused only here, at a dispatch boundary, so
// in-flight node state is never disturbed.
func (e *Engine) waitIfPaused(ctx context.Context, rs *runState) error {
	if !rs.gate.Paused() {
		return nil
	}
	rs.exec.Status = domain.ExecutionStatusPaused
	e.publish(rs.exec.ID, domain.ExecutionPausedEvent{
		ExecutionID: rs.exec.ID,
		Level:       rs.exec.CurrentLevel,
		PausedAt:    time.Now().UTC(),
	})
	e.save(rs.exec)
	e.logger.Info("execution paused", "execution_id", rs.exec.ID, "level", rs.exec.CurrentLevel)

	if err := rs.gate.Wait(ctx); err != nil {
		return err
	}
	if rs.cancelled.Load() {
		return errRunHalted
	}
	rs.exec.Status = domain.ExecutionStatusRunning
	e.publish(rs.exec.ID, domain.ExecutionResumedEvent{
		ExecutionID: rs.exec.ID,
		Level:       rs.exec.CurrentLevel,
		ResumedAt:   time.Now().UTC(),
	})
	e.logger.Info("execution resumed", "execution_id", rs.exec.ID, "level", rs.exec.CurrentLevel)
	return nil
}

// dispatchLevel runs one level to its barrier. Non-loop nodes fan out
// to the worker pool; loop nodes run in the driver afterwards, one at
// a time, so body re-execution keeps the single-writer invariant.
func (e *Engine) dispatchLevel(ctx context.Context, rs *runState, ids []string, frame *loopFrame) {
	var launches []launch
	var loops []*domain.Node

	for _, id := range ids {
		node := rs.graph.Nodes[id]
		if node == nil {
			continue
		}
		owner := rs.graph.Owner[id]
		if frame == nil && owner != "" {
			// Loop-owned nodes execute under their loop's iterations.
			continue
		}
		if frame != nil && owner != frame.loopID {
			continue
		}
		if rs.shouldSkip(id, frame) {
			e.markSkipped(rs, id)
			continue
		}
		if node.Type == domain.TypeLoop {
			loops = append(loops, node)
			continue
		}

		vars := e.varContext(rs, frame)
		params, err := e.resolver.Resolve(node.Parameters, vars)
		if err != nil {
			e.settleOutcome(rs, nodeOutcome{
				nodeID: id,
				err:    domain.NewTemplateError(id, err),
			})
			continue
		}
		launches = append(launches, launch{node: node, params: params, vars: vars})
	}

	if len(launches) > 0 {
		outcomes := make(chan nodeOutcome, len(launches)*2)
		for _, l := range launches {
			go e.worker(ctx, rs, l, outcomes)
		}
		e.collect(ctx, rs, launches, outcomes)
	}

	for _, loopNode := range loops {
		if rs.aborted || rs.cancelled.Load() || ctx.Err() != nil {
			return
		}
		e.runLoop(ctx, rs, loopNode, frame)
	}
}

// worker executes one node off the driver goroutine. It blocks on the
// pool semaphore first, so a node is only reported running once it
// actually holds a slot.
func (e *Engine) worker(ctx context.Context, rs *runState, l launch, outcomes chan<- nodeOutcome) {
	select {
	case rs.sem <- struct{}{}:
	case <-ctx.Done():
		outcomes <- nodeOutcome{nodeID: l.node.ID, err: domain.NewCancelledError(ctx.Err())}
		return
	}
	outcomes <- nodeOutcome{nodeID: l.node.ID, started: true}
	oc := e.executeNode(ctx, rs.exec.ID, rs.exec.WorkflowID, l)
	<-rs.sem
	outcomes <- oc
}

// collect consumes worker messages until every launched node settles.
// After cancellation or deadline the remaining in-flight nodes get
// CancelGrace to finish before being recorded as failed.
func (e *Engine) collect(ctx context.Context, rs *runState, launches []launch, outcomes <-chan nodeOutcome) {
	inflight := make(map[string]bool, len(launches))
	for _, l := range launches {
		inflight[l.node.ID] = true
	}

	apply := func(oc nodeOutcome) {
		if oc.started {
			e.markRunning(rs, oc.nodeID)
			return
		}
		delete(inflight, oc.nodeID)
		e.settleOutcome(rs, oc)
	}

	for len(inflight) > 0 {
		if ctx.Err() == nil {
			select {
			case oc := <-outcomes:
				apply(oc)
			case <-ctx.Done():
				// Fall through to the grace window below.
			}
			continue
		}

		if rs.graceStart.IsZero() {
			rs.graceStart = time.Now()
		}
		remaining := e.config.CancelGrace - time.Since(rs.graceStart)
		if remaining <= 0 {
			e.abandon(rs, inflight)
			return
		}
		select {
		case oc := <-outcomes:
			apply(oc)
		case <-time.After(remaining):
			e.abandon(rs, inflight)
			return
		}
	}
}

// abandon settles nodes whose workers did not finish within the grace
// window after cancellation or deadline.
func (e *Engine) abandon(rs *runState, inflight map[string]bool) {
	for id := range inflight {
		var err error
		if rs.cancelled.Load() {
			err = domain.NewCancelledError(errors.New("in-flight node abandoned on cancel"))
		} else {
			err = domain.NewTimeoutError(fmt.Errorf("node %s abandoned at execution deadline", id))
		}
		e.settleOutcome(rs, nodeOutcome{nodeID: id, err: err})
	}
}

// executeNode runs in a worker goroutine. It must not touch the run
// state; everything it needs arrives in the launch.
func (e *Engine) executeNode(ctx context.Context, executionID, workflowID string, l launch) nodeOutcome {
	oc := nodeOutcome{nodeID: l.node.ID}

	switch l.node.Type {
	case domain.TypeStart, domain.TypeEnd:
		// Structural markers only.

	case domain.TypeDelay:
		seconds, ok := domain.AsFloat(l.params["seconds"])
		if !ok || seconds < 0 {
			oc.err = domain.NewHandlerError(l.node.ID, fmt.Errorf("delay needs a non-negative seconds parameter, got %v", l.params["seconds"]))
			return oc
		}
		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			oc.err = domain.NewCancelledError(ctx.Err())
		}

	case domain.TypeCondition:
		result, err := evalConditionParam(l.params["expression"], l.vars)
		if err != nil {
			oc.err = domain.NewHandlerError(l.node.ID, fmt.Errorf("condition: %w", err))
			return oc
		}
		oc.output = result
		if result {
			oc.taken = domain.HandleTrue
		} else {
			oc.taken = domain.HandleFalse
		}

	case domain.TypeVariableSet:
		name := domain.Stringify(l.params["name"])
		if name == "" {
			oc.err = domain.NewHandlerError(l.node.ID, errors.New("variable_set needs a name"))
			return oc
		}
		oc.setName = name
		oc.setValue = l.params["value"]
		oc.hasSet = true
		oc.output = l.params["value"]

	default:
		hctx := ports.HandlerContext{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			NodeID:      l.node.ID,
			BlockType:   l.node.Type,
			Variables:   l.vars,
		}
		oc.output, oc.err = e.registry.Dispatch(ctx, l.node.Type, l.params, hctx)
	}

	return oc
}

// settleOutcome applies one worker result to the snapshot and emits
// the node delta plus the aggregate progress event.
func (e *Engine) settleOutcome(rs *runState, oc nodeOutcome) {
	ns := rs.exec.NodeStatuses[oc.nodeID]
	if ns == nil {
		return
	}
	now := time.Now().UTC()
	if ns.StartedAt == nil {
		ns.StartedAt = &now
	}
	ns.CompletedAt = &now

	if oc.err != nil {
		var rerr *domain.RuntimeError
		if !errors.As(oc.err, &rerr) {
			oc.err = domain.NewHandlerError(oc.nodeID, oc.err)
		}
		ns.Status = domain.NodeStatusFailed
		ns.Error = oc.err.Error()
		rs.exec.Errors = append(rs.exec.Errors, domain.NodeFailure{
			NodeID:  oc.nodeID,
			Message: oc.err.Error(),
		})
		e.logger.Warn("node failed",
			"execution_id", rs.exec.ID,
			"node_id", oc.nodeID,
			"policy", rs.policy,
			"error", oc.err)

		switch rs.policy {
		case domain.ErrorPolicyContinue:
			// Independent branches keep going; dependents of the failed
			// node skip via eligibility.
		case domain.ErrorPolicySkipBranch:
			for id := range rs.graph.Downstream(oc.nodeID) {
				rs.forcedSkip[id] = true
			}
		default:
			rs.aborted = true
		}
	} else {
		ns.Status = domain.NodeStatusCompleted
		rs.exec.CompletedNodes++
		if oc.output != nil {
			ns.Output = oc.output
			rs.exec.NodeResults[oc.nodeID] = oc.output
		}
		if oc.taken != "" {
			rs.taken[oc.nodeID] = oc.taken
		}
		if oc.hasSet {
			rs.exec.Variables[oc.setName] = oc.setValue
		}
	}

	e.publishNode(rs, ns)
	e.publishProgress(rs)
}

func (e *Engine) markRunning(rs *runState, nodeID string) {
	ns := rs.exec.NodeStatuses[nodeID]
	if ns == nil {
		return
	}
	now := time.Now().UTC()
	ns.Status = domain.NodeStatusRunning
	ns.StartedAt = &now
	e.publishNode(rs, ns)
}

func (e *Engine) markSkipped(rs *runState, nodeID string) {
	ns := rs.exec.NodeStatuses[nodeID]
	if ns == nil || ns.Status.Terminal() {
		return
	}
	ns.Status = domain.NodeStatusSkipped
	e.publishNode(rs, ns)
	e.publishProgress(rs)
}

func (e *Engine) publishNode(rs *runState, ns *domain.NodeExecutionStatus) {
	e.publish(rs.exec.ID, domain.NodeStatusEvent{
		ExecutionID: rs.exec.ID,
		Node:        *ns,
	})
}

func (e *Engine) publishProgress(rs *runState) {
	e.publish(rs.exec.ID, domain.ProgressEvent{
		ExecutionID: rs.exec.ID,
		Level:       rs.exec.CurrentLevel,
		Progress:    rs.exec.ComputeProgress(),
	})
}

// shouldSkip decides eligibility at dispatch time: a node runs if any
// non-loop-back in-edge is live, meaning its source completed and its
// source port was taken. Start nodes have no in-edges and always run.
func (rs *runState) shouldSkip(nodeID string, frame *loopFrame) bool {
	if rs.forcedSkip[nodeID] {
		return true
	}
	deps := rs.graph.Dependencies(nodeID)
	if len(deps) == 0 {
		return false
	}
	for _, edge := range deps {
		if rs.edgeLive(edge, frame) {
			return false
		}
	}
	return true
}

// edgeLive reports whether one dependency edge carries control flow.
func (rs *runState) edgeLive(edge domain.Edge, frame *loopFrame) bool {
	src := rs.graph.Nodes[edge.Source]
	if src == nil {
		return false
	}

	// Inside an iteration, the owning loop's iteration edges are the
	// entry points of the body even though the loop has not settled.
	if frame != nil && edge.Source == frame.loopID {
		return edge.SourcePort() == domain.HandleIteration
	}

	ns := rs.exec.NodeStatuses[edge.Source]
	if ns == nil || ns.Status != domain.NodeStatusCompleted {
		return false
	}

	switch src.Type {
	case domain.TypeCondition:
		switch edge.SourcePort() {
		case domain.HandleTrue, domain.HandleFalse:
			return rs.taken[edge.Source] == edge.SourcePort()
		default:
			// Unconditioned successor fires on either branch.
			return true
		}
	case domain.TypeLoop:
		// Iteration edges only fire inside the loop's own frames.
		return edge.SourcePort() != domain.HandleIteration
	default:
		return true
	}
}

// varContext assembles the variable layers visible to a node, lowest
// precedence first: workflow variables (defaults, inputs and
// variable_set writes), prior node outputs keyed by node id, then loop
// bindings innermost-last.
func (e *Engine) varContext(rs *runState, frame *loopFrame) map[string]domain.Value {
	outputs := make(map[string]domain.Value, len(rs.exec.NodeResults))
	for id, v := range rs.exec.NodeResults {
		outputs[id] = v
	}
	layers := []map[string]domain.Value{rs.exec.Variables, outputs}
	layers = append(layers, frame.bindings()...)

	merged, err := domain.MergeVariables(layers...)
	if err != nil {
		// Merging values from the closed set cannot fail; fall back to a
		// bare copy rather than crash the run.
		e.logger.Error("variable merge failed", "execution_id", rs.exec.ID, "error", err)
		return domain.CopyVariables(rs.exec.Variables)
	}
	return merged
}

// finalize settles the terminal status, skips whatever never started,
// and emits the finished event.
func (e *Engine) finalize(ctx context.Context, rs *runState) {
	exec := rs.exec
	now := time.Now().UTC()

	// Nodes that never dispatched, including the bodies of loops that ran
	// zero iterations, settle as skipped on every terminal path.
	e.skipUnsettled(rs)

	switch {
	case rs.cancelled.Load() || errors.Is(ctx.Err(), context.Canceled):
		exec.Status = domain.ExecutionStatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rerr := domain.NewTimeoutError(errors.New("execution exceeded its deadline"))
		exec.Errors = append(exec.Errors, domain.NodeFailure{Message: rerr.Error()})
		exec.Status = domain.ExecutionStatusFailed
	case rs.aborted || len(exec.Errors) > 0:
		exec.Status = domain.ExecutionStatusFailed
	default:
		exec.Status = domain.ExecutionStatusCompleted
	}
	exec.CompletedAt = &now

	e.publish(exec.ID, domain.ExecutionFinishedEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		Errors:      exec.Errors,
		CompletedAt: now,
		Duration:    now.Sub(exec.StartedAt),
	})
	e.save(exec)

	e.logger.Info("execution finished",
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"status", exec.Status,
		"completed_nodes", exec.CompletedNodes,
		"errors", len(exec.Errors),
		"duration", now.Sub(exec.StartedAt))
}

// skipUnsettled marks every node that never dispatched as skipped.
func (e *Engine) skipUnsettled(rs *runState) {
	for _, level := range rs.compiled.ExecutionOrder {
		for _, id := range level {
			ns := rs.exec.NodeStatuses[id]
			if ns != nil && !ns.Status.Terminal() {
				e.markSkipped(rs, id)
			}
		}
	}
}
