package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// Loop modes. Array mode walks a resolved list; condition mode repeats
// while an expression holds, capped by MaxLoopIterations.
const (
	loopModeArray     = "array"
	loopModeCondition = "condition"
)

// loopFrame scopes one iteration's variable binding. Frames nest when
// a body contains another loop.
type loopFrame struct {
	parent   *loopFrame
	loopID   string
	variable string
	value    domain.Value
}

// bindings returns the frame chain as merge layers, outermost first so
// the innermost loop wins on name collisions.
func (f *loopFrame) bindings() []map[string]domain.Value {
	if f == nil {
		return nil
	}
	return append(f.parent.bindings(), map[string]domain.Value{f.variable: f.value})
}

// runLoop executes a control.loop node in the driver goroutine. Body
// levels re-run per iteration; only the latest iteration's per-node
// results survive on the snapshot.
func (e *Engine) runLoop(ctx context.Context, rs *runState, node *domain.Node, parent *loopFrame) {
	e.markRunning(rs, node.ID)

	vars := e.varContext(rs, parent)
	params, err := e.resolver.Resolve(node.Parameters, vars)
	if err != nil {
		e.settleOutcome(rs, nodeOutcome{nodeID: node.ID, err: domain.NewTemplateError(node.ID, err)})
		return
	}

	mode := loopModeArray
	if m, ok := params["mode"]; ok {
		mode = domain.Stringify(m)
	}
	variable := "item"
	if v, ok := params["variable"]; ok {
		if name := domain.Stringify(v); name != "" {
			variable = name
		}
	}
	maxIterations := e.config.MaxLoopIterations
	if raw, ok := params["max_iterations"]; ok {
		f, ok := domain.AsFloat(raw)
		if !ok || f < 1 {
			e.settleOutcome(rs, nodeOutcome{
				nodeID: node.ID,
				err:    domain.NewHandlerError(node.ID, fmt.Errorf("max_iterations must be a positive number, got %v", raw)),
			})
			return
		}
		maxIterations = int(f)
	}
	bodyLevels := rs.bodyLevels(node.ID)

	var iterations int
	items := make([]domain.Value, 0)

	switch mode {
	case loopModeArray:
		arr, ok := domain.AsSlice(params["array"])
		if !ok {
			e.settleOutcome(rs, nodeOutcome{
				nodeID: node.ID,
				err:    domain.NewHandlerError(node.ID, fmt.Errorf("loop array parameter is not a list, got %T", params["array"])),
			})
			return
		}
		for _, elem := range arr {
			frame := &loopFrame{parent: parent, loopID: node.ID, variable: variable, value: elem}
			if err := e.runIteration(ctx, rs, node, bodyLevels, frame); err != nil {
				e.settleLoopFailure(rs, node.ID, iterations, err)
				return
			}
			iterations++
			items = append(items, elem)
		}

	case loopModeCondition:
		for {
			if iterations >= maxIterations {
				e.settleOutcome(rs, nodeOutcome{
					nodeID: node.ID,
					err:    domain.NewHandlerError(node.ID, fmt.Errorf("condition loop exceeded %d iterations", maxIterations)),
				})
				return
			}
			// Re-resolve per iteration so body writes are visible to the
			// condition.
			iterVars := e.varContext(rs, parent)
			iterParams, err := e.resolver.Resolve(node.Parameters, iterVars)
			if err != nil {
				e.settleLoopFailure(rs, node.ID, iterations, domain.NewTemplateError(node.ID, err))
				return
			}
			keepGoing, err := evalConditionParam(iterParams["condition"], iterVars)
			if err != nil {
				e.settleLoopFailure(rs, node.ID, iterations, domain.NewHandlerError(node.ID, fmt.Errorf("loop condition: %w", err)))
				return
			}
			if !keepGoing {
				break
			}
			frame := &loopFrame{parent: parent, loopID: node.ID, variable: variable, value: float64(iterations)}
			if err := e.runIteration(ctx, rs, node, bodyLevels, frame); err != nil {
				e.settleLoopFailure(rs, node.ID, iterations, err)
				return
			}
			iterations++
		}

	default:
		e.settleOutcome(rs, nodeOutcome{
			nodeID: node.ID,
			err:    domain.NewHandlerError(node.ID, fmt.Errorf("unknown loop mode %q", mode)),
		})
		return
	}

	e.settleOutcome(rs, nodeOutcome{
		nodeID: node.ID,
		output: map[string]domain.Value{
			"iterations": float64(iterations),
			"items":      items,
		},
	})
}

// runIteration resets the body and replays its levels under the frame.
// Under the stop policy a body failure halts the loop; continue and
// skip-branch record the failure and move on to the next iteration.
func (e *Engine) runIteration(ctx context.Context, rs *runState, node *domain.Node, bodyLevels [][]string, frame *loopFrame) error {
	for id := range rs.graph.Bodies[node.ID] {
		e.resetNode(rs, id)
	}

	for _, level := range bodyLevels {
		if rs.cancelled.Load() || ctx.Err() != nil {
			return domain.NewCancelledError(errors.New("iteration interrupted"))
		}
		if err := e.waitIfPaused(ctx, rs); err != nil {
			return err
		}
		e.dispatchLevel(ctx, rs, level, frame)
		if rs.aborted {
			return errRunHalted
		}
	}
	return nil
}

// settleLoopFailure records the loop node itself as failed after an
// iteration-level error.
func (e *Engine) settleLoopFailure(rs *runState, nodeID string, iterations int, err error) {
	if errors.Is(err, errRunHalted) {
		err = domain.NewHandlerError(nodeID, fmt.Errorf("loop body failed on iteration %d", iterations))
	}
	e.settleOutcome(rs, nodeOutcome{nodeID: nodeID, err: err})
}

// resetNode returns a body node to pending before the next iteration.
func (e *Engine) resetNode(rs *runState, id string) {
	ns := rs.exec.NodeStatuses[id]
	if ns == nil {
		return
	}
	if ns.Status == domain.NodeStatusCompleted {
		rs.exec.CompletedNodes--
	}
	ns.Status = domain.NodeStatusPending
	ns.StartedAt = nil
	ns.CompletedAt = nil
	ns.Output = nil
	ns.Error = ""
	delete(rs.exec.NodeResults, id)
	delete(rs.taken, id)
	delete(rs.forcedSkip, id)
}

// bodyLevels projects the compiled order down to one loop's body,
// preserving level grouping.
func (rs *runState) bodyLevels(loopID string) [][]string {
	body := rs.graph.Bodies[loopID]
	var out [][]string
	for _, level := range rs.compiled.ExecutionOrder {
		var ids []string
		for _, id := range level {
			if body[id] {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			out = append(out, ids)
		}
	}
	return out
}
