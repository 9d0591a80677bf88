package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire-io/fluxwire/internal/adapters/compiler"
	"github.com/fluxwire-io/fluxwire/internal/adapters/registry"
	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

func node(id, typ string, params map[string]domain.Value) domain.Node {
	return domain.Node{ID: id, Type: typ, Parameters: params}
}

func edge(src, dst string) domain.Edge {
	return domain.Edge{ID: src + "-" + dst, Source: src, Target: dst}
}

func edgeFrom(src, handle, dst string) domain.Edge {
	return domain.Edge{ID: src + "-" + handle + "-" + dst, Source: src, Target: dst, SourceHandle: handle}
}

func workflow(nodes []domain.Node, edges []domain.Edge) *domain.Workflow {
	return &domain.Workflow{
		ID:     "wf-test",
		Name:   "test workflow",
		Status: domain.WorkflowStatusActive,
		Nodes:  nodes,
		Edges:  edges,
	}
}

// recorder is a ProgressSink capturing every event for assertions.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ string, event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventKind())
	}
	return out
}

func (r *recorder) hasKind(kind string) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type testRig struct {
	engine   *Engine
	registry *registry.Registry
	sink     *recorder
}

func newRig(t *testing.T, cfg domain.EngineConfig) *testRig {
	t.Helper()
	reg := registry.New(time.Second, nil)
	sink := &recorder{}
	eng, err := New(cfg, reg, nil, sink, nil)
	require.NoError(t, err)
	return &testRig{engine: eng, registry: reg, sink: sink}
}

func (r *testRig) handle(t *testing.T, blockType string, fn ports.HandlerFunc) {
	t.Helper()
	require.NoError(t, r.registry.Register(blockType, fn))
}

func (r *testRig) run(t *testing.T, wf *domain.Workflow, inputs map[string]domain.Value) *domain.Execution {
	t.Helper()
	compiled := compiler.New(nil).Compile(wf)
	require.True(t, compiled.Valid, "compile errors: %v", compiled.Errors)
	exec, err := r.engine.Execute(context.Background(), "", wf, compiled, inputs)
	require.NoError(t, err)
	return exec
}

func echoHandler(ctx context.Context, params map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
	return params["value"], nil
}

func TestExecuteLinearWorkflow(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.probe", map[string]domain.Value{"value": "up"}),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 3, exec.CompletedNodes)
	assert.Equal(t, exec.TotalLevels, exec.CurrentLevel)
	assert.Equal(t, "up", exec.NodeResults["2"])
	assert.NotNil(t, exec.CompletedAt)
	for id, ns := range exec.NodeStatuses {
		assert.Equal(t, domain.NodeStatusCompleted, ns.Status, "node %s", id)
	}
	assert.True(t, rig.sink.hasKind("execution.started"))
	assert.True(t, rig.sink.hasKind("execution.finished"))
	assert.True(t, rig.sink.hasKind("node.status"))
	assert.True(t, rig.sink.hasKind("execution.progress"))
}

func TestTemplatePipesOutputsAndInputs(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.probe", map[string]domain.Value{"value": "{{env}}"}),
			node("3", "net.probe", map[string]domain.Value{"value": "seen {{2}}"}),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3"), edge("3", "4")},
	)
	wf.Variables = []domain.Variable{{Name: "env", Default: "staging"}}

	exec := rig.run(t, wf, map[string]domain.Value{"env": "prod"})

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "prod", exec.NodeResults["2"], "runtime input overrides declared default")
	assert.Equal(t, "seen prod", exec.NodeResults["3"])
}

func TestUndefinedTemplateVariableFailsNode(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.probe", map[string]domain.Value{"value": "{{missing}}"}),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.Len(t, exec.Errors, 1)
	assert.Contains(t, exec.Errors[0].Message, string(domain.RuntimeTemplateResolution))
	assert.Equal(t, domain.NodeStatusFailed, exec.NodeStatuses["2"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
}

func TestUnknownBlockTypeFailsNode(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.bogus", nil),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.NotEmpty(t, exec.Errors)
	assert.Contains(t, exec.Errors[0].Message, "unknown block type")
}

func TestConditionRoutesBranches(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeCondition, map[string]domain.Value{"expression": "{{count}} > 3"}),
			node("3", "net.probe", map[string]domain.Value{"value": "high"}),
			node("4", "net.probe", map[string]domain.Value{"value": "low"}),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleTrue, "3"),
			edgeFrom("2", domain.HandleFalse, "4"),
			edge("3", "5"),
			edge("4", "5"),
		},
	)

	exec := rig.run(t, wf, map[string]domain.Value{"count": float64(5)})

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["3"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["4"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["5"].Status)
	assert.Equal(t, true, exec.NodeResults["2"])

	// Skipped nodes drop out of the progress denominator.
	progress := exec.ComputeProgress()
	assert.Equal(t, progress.Total, progress.Completed)
	assert.InDelta(t, 100.0, progress.Percentage, 0.001)
}

func TestConditionFalseBranchCascades(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	// The untaken branch is a chain; every node on it must skip.
	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeCondition, map[string]domain.Value{"expression": "false"}),
			node("3", "net.probe", map[string]domain.Value{"value": "a"}),
			node("4", "net.probe", map[string]domain.Value{"value": "b"}),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleTrue, "3"),
			edge("3", "4"),
			edgeFrom("2", domain.HandleFalse, "5"),
			edge("4", "5"),
		},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["4"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["5"].Status)
}

func TestLoopArrayMode(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())

	var mu sync.Mutex
	var seen []string
	rig.handle(t, "net.probe", func(_ context.Context, params map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		mu.Lock()
		defer mu.Unlock()
		target := domain.Stringify(params["target"])
		seen = append(seen, target)
		return target, nil
	})
	var endRuns atomic.Int32
	rig.handle(t, "net.report", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		endRuns.Add(1)
		return nil, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeLoop, map[string]domain.Value{
				"array":    "{{hosts}}",
				"variable": "host",
			}),
			node("3", "net.probe", map[string]domain.Value{"target": "{{host}}"}),
			node("4", "net.report", nil),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleIteration, "3"),
			edge("3", "2"), // return edge closing the iteration cycle
			edgeFrom("2", domain.HandleComplete, "4"),
			edge("4", "5"),
		},
	)

	hosts := []domain.Value{"alpha", "beta", "gamma"}
	exec := rig.run(t, wf, map[string]domain.Value{"hosts": hosts})

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, seen)
	assert.Equal(t, int32(1), endRuns.Load(), "complete branch runs once, after the last iteration")

	out, ok := exec.NodeResults["2"].(map[string]domain.Value)
	require.True(t, ok)
	assert.Equal(t, float64(3), out["iterations"])

	// Only the latest iteration's body result survives.
	assert.Equal(t, "gamma", exec.NodeResults["3"])
	assert.Equal(t, 5, exec.CompletedNodes)
}

func TestLoopEmptyArray(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	var bodyRuns atomic.Int32
	rig.handle(t, "net.probe", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		bodyRuns.Add(1)
		return nil, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeLoop, map[string]domain.Value{"array": "{{hosts}}"}),
			node("3", "net.probe", nil),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleIteration, "3"),
			edge("3", "2"),
			edgeFrom("2", domain.HandleComplete, "4"),
		},
	)

	exec := rig.run(t, wf, map[string]domain.Value{"hosts": []domain.Value{}})

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int32(0), bodyRuns.Load())
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["2"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["4"].Status)

	out, ok := exec.NodeResults["2"].(map[string]domain.Value)
	require.True(t, ok)
	assert.Equal(t, float64(0), out["iterations"])
}

func TestLoopConditionMode(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "math.bump", func(_ context.Context, _ map[string]domain.Value, hctx ports.HandlerContext) (domain.Value, error) {
		current, _ := domain.AsFloat(hctx.Variables["counter"])
		return current + 1, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeLoop, map[string]domain.Value{
				"mode":      "condition",
				"condition": "{{counter}} < 3",
			}),
			node("3", "math.bump", nil),
			node("4", domain.TypeVariableSet, map[string]domain.Value{
				"name":  "counter",
				"value": "{{3}}",
			}),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleIteration, "3"),
			edge("3", "4"),
			edge("4", "2"),
			edgeFrom("2", domain.HandleComplete, "5"),
		},
	)
	wf.Variables = []domain.Variable{{Name: "counter", Default: float64(0)}}

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, float64(3), exec.Variables["counter"])

	out, ok := exec.NodeResults["2"].(map[string]domain.Value)
	require.True(t, ok)
	assert.Equal(t, float64(3), out["iterations"])
}

func TestLoopConditionModeIterationCap(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.MaxLoopIterations = 5
	rig := newRig(t, cfg)
	rig.handle(t, "net.noop", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return nil, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeLoop, map[string]domain.Value{
				"mode":      "condition",
				"condition": "true",
			}),
			node("3", "net.noop", nil),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleIteration, "3"),
			edge("3", "2"),
			edgeFrom("2", domain.HandleComplete, "4"),
		},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.NotEmpty(t, exec.Errors)
	assert.Contains(t, exec.Errors[0].Message, "exceeded 5 iterations")
}

func TestLoopMaxIterationsParameterOverridesDefault(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.noop", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return nil, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeLoop, map[string]domain.Value{
				"mode":           "condition",
				"condition":      "true",
				"max_iterations": float64(2),
			}),
			node("3", "net.noop", nil),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edgeFrom("2", domain.HandleIteration, "3"),
			edge("3", "2"),
			edgeFrom("2", domain.HandleComplete, "4"),
		},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.NotEmpty(t, exec.Errors)
	assert.Contains(t, exec.Errors[0].Message, "exceeded 2 iterations")
}

func TestVariableSetVisibleDownstream(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeVariableSet, map[string]domain.Value{
				"name":  "region",
				"value": "eu-west",
			}),
			node("3", "net.probe", map[string]domain.Value{"value": "{{region}}"}),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3"), edge("3", "4")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "eu-west", exec.Variables["region"])
	assert.Equal(t, "eu-west", exec.NodeResults["3"])
}

func TestBoundedParallelism(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())

	var current, peak atomic.Int32
	rig.handle(t, "net.probe", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	})

	nodes := []domain.Node{node("start", domain.TypeStart, nil), node("end", domain.TypeEnd, nil)}
	edges := []domain.Edge{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		nodes = append(nodes, node(id, "net.probe", nil))
		edges = append(edges, edge("start", id), edge(id, "end"))
	}
	wf := workflow(nodes, edges)
	wf.Settings.MaxParallel = 2

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2), "pool must cap concurrent handlers")
}

func TestErrorPolicyStop(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.fail", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return nil, errors.New("probe unreachable")
	})
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.fail", nil),
			node("3", "net.probe", map[string]domain.Value{"value": "x"}),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3"), edge("3", "4")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, domain.NodeStatusFailed, exec.NodeStatuses["2"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["4"].Status)
	require.Len(t, exec.Errors, 1)
	assert.Equal(t, "2", exec.Errors[0].NodeID)
}

func TestErrorPolicyContinue(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.fail", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return nil, errors.New("probe unreachable")
	})
	rig.handle(t, "net.probe", echoHandler)

	// Two branches joining at the end: the healthy branch keeps the
	// join node alive even though the failed branch died.
	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.fail", nil),
			node("3", "net.probe", map[string]domain.Value{"value": "x"}),
			node("4", "net.probe", map[string]domain.Value{"value": "y"}),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edge("1", "4"),
			edge("2", "3"),
			edge("3", "5"),
			edge("4", "5"),
		},
	)
	wf.Settings.OnError = domain.ErrorPolicyContinue

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status, "failures still fail the run")
	assert.Equal(t, domain.NodeStatusFailed, exec.NodeStatuses["2"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status, "dependent of the failed node")
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["4"].Status, "independent branch proceeds")
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["5"].Status, "join fires off the live branch")
}

func TestErrorPolicySkipBranch(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.fail", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return nil, errors.New("probe unreachable")
	})
	rig.handle(t, "net.probe", echoHandler)

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.fail", nil),
			node("3", "net.probe", map[string]domain.Value{"value": "x"}),
			node("4", "net.probe", map[string]domain.Value{"value": "y"}),
			node("5", domain.TypeEnd, nil),
		},
		[]domain.Edge{
			edge("1", "2"),
			edge("1", "4"),
			edge("2", "3"),
			edge("3", "5"),
			edge("4", "5"),
		},
	)
	wf.Settings.OnError = domain.ErrorPolicySkipBranch

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, exec.NodeStatuses["4"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["5"].Status,
		"transitive dependents of the failed node skip, including joins")
}

func TestExecutionTimeout(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.DefaultTimeout = 50 * time.Millisecond
	cfg.CancelGrace = 50 * time.Millisecond
	rig := newRig(t, cfg)
	rig.handle(t, "net.slow", func(ctx context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		select {
		case <-time.After(5 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.slow", nil),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.NotEmpty(t, exec.Errors)
	assert.Contains(t, exec.Errors[len(exec.Errors)-1].Message, string(domain.RuntimeExecutionTimeout))
	assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
}

func TestCancelExecution(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.CancelGrace = 100 * time.Millisecond
	rig := newRig(t, cfg)

	started := make(chan struct{})
	rig.handle(t, "net.block", func(ctx context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.block", nil),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)
	compiled := compiler.New(nil).Compile(wf)
	require.True(t, compiled.Valid)

	done := make(chan *domain.Execution, 1)
	go func() {
		exec, err := rig.engine.Execute(context.Background(), "exec-cancel", wf, compiled, nil)
		assert.NoError(t, err)
		done <- exec
	}()

	<-started
	require.NoError(t, rig.engine.Cancel("exec-cancel"))

	select {
	case exec := <-done:
		assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)
		assert.Equal(t, domain.NodeStatusFailed, exec.NodeStatuses["2"].Status)
		assert.Equal(t, domain.NodeStatusSkipped, exec.NodeStatuses["3"].Status)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not stop after cancel")
	}

	assert.Error(t, rig.engine.Cancel("exec-cancel"), "finished executions are no longer addressable")
}

func TestPauseAndResume(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	rig.handle(t, "net.gate", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		close(started)
		<-release
		return nil, nil
	})
	var tailRuns atomic.Int32
	rig.handle(t, "net.tail", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		tailRuns.Add(1)
		return nil, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.gate", nil),
			node("3", "net.tail", nil),
			node("4", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3"), edge("3", "4")},
	)
	compiled := compiler.New(nil).Compile(wf)
	require.True(t, compiled.Valid)

	done := make(chan *domain.Execution, 1)
	go func() {
		exec, err := rig.engine.Execute(context.Background(), "exec-pause", wf, compiled, nil)
		assert.NoError(t, err)
		done <- exec
	}()

	<-started
	require.NoError(t, rig.engine.Pause("exec-pause"))
	assert.Error(t, rig.engine.Pause("exec-pause"), "double pause")

	// Let the in-flight node finish; the driver must park at the next
	// level boundary instead of dispatching the tail.
	close(release)

	require.Eventually(t, func() bool {
		return rig.sink.hasKind("execution.paused")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), tailRuns.Load(), "no new level dispatches while paused")

	require.NoError(t, rig.engine.Resume("exec-pause"))

	select {
	case exec := <-done:
		assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, int32(1), tailRuns.Load())
		assert.True(t, rig.sink.hasKind("execution.resumed"))
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after resume")
	}

	assert.Error(t, rig.engine.Resume("exec-pause"), "finished executions are no longer addressable")
}

func TestDelayNode(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", domain.TypeDelay, map[string]domain.Value{"seconds": 0.02}),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	begin := time.Now()
	exec := rig.run(t, wf, nil)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)
}

func TestExecuteRejectsInvalidCompileResult(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	wf := workflow([]domain.Node{node("1", domain.TypeStart, nil)}, nil)

	_, err := rig.engine.Execute(context.Background(), "", wf, domain.CompileResult{Valid: false}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestHandlerOutputStoredOnStatus(t *testing.T) {
	rig := newRig(t, domain.DefaultEngineConfig())
	rig.handle(t, "net.scan", func(_ context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return map[string]domain.Value{"open_ports": []domain.Value{float64(22), float64(443)}}, nil
	})

	wf := workflow(
		[]domain.Node{
			node("1", domain.TypeStart, nil),
			node("2", "net.scan", nil),
			node("3", domain.TypeEnd, nil),
		},
		[]domain.Edge{edge("1", "2"), edge("2", "3")},
	)

	exec := rig.run(t, wf, nil)

	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, exec.NodeResults["2"], exec.NodeStatuses["2"].Output)
	assert.NotNil(t, exec.NodeStatuses["2"].StartedAt)
	assert.NotNil(t, exec.NodeStatuses["2"].CompletedAt)
}
