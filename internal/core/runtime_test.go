package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire-io/fluxwire/internal/adapters/storage"
	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

func testWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:     "wf-runtime",
		Name:   "runtime test",
		Status: domain.WorkflowStatusActive,
		Nodes: []domain.Node{
			{ID: "1", Type: domain.TypeStart},
			{ID: "2", Type: "net.probe", Parameters: map[string]domain.Value{"value": "{{target}}"}},
			{ID: "3", Type: domain.TypeEnd},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "1", Target: "2"},
			{ID: "e2", Source: "2", Target: "3"},
		},
	}
}

func newRuntime(t *testing.T, store ports.ExecutionStore) *Runtime {
	t.Helper()
	rt, err := NewRuntime(domain.DefaultEngineConfig(), store, nil)
	require.NoError(t, err)
	require.NoError(t, rt.RegisterHandler("net.probe", ports.HandlerFunc(
		func(_ context.Context, params map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
			return params["value"], nil
		})))
	return rt
}

func TestRuntimeExecuteSync(t *testing.T) {
	store := storage.NewMemory()
	rt := newRuntime(t, store)
	defer rt.Close()

	exec, err := rt.ExecuteSync(context.Background(), testWorkflow(), map[string]domain.Value{"target": "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "10.0.0.1", exec.NodeResults["2"])

	// The final snapshot must be persisted.
	stored, err := rt.LoadExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, stored.Status)

	list, err := rt.ListExecutions(context.Background(), "wf-runtime")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRuntimeExecuteAsyncWithSubscription(t *testing.T) {
	rt := newRuntime(t, nil)
	defer rt.Close()

	executionID, err := rt.Execute(context.Background(), testWorkflow(), map[string]domain.Value{"target": "host-a"})
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	events, cancel := rt.Subscribe(executionID)
	defer cancel()

	exec, err := rt.Wait(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, executionID, exec.ID)

	// The subscription channel closes once the execution finalizes;
	// drain whatever was buffered before teardown.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-events:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}

func TestRuntimeRejectsInvalidGraph(t *testing.T) {
	rt := newRuntime(t, nil)
	defer rt.Close()

	wf := testWorkflow()
	wf.Nodes = wf.Nodes[1:] // drop the start node

	_, err := rt.Execute(context.Background(), wf, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestRuntimeCompileReportsFindings(t *testing.T) {
	rt := newRuntime(t, nil)
	defer rt.Close()

	wf := testWorkflow()
	wf.Edges = append(wf.Edges, domain.Edge{ID: "bad", Source: "2", Target: "ghost"})

	result := rt.Compile(wf)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, domain.CompileInvalidEdge, result.Errors[0].Type)
}

func TestRuntimeLifecycleErrors(t *testing.T) {
	rt := newRuntime(t, nil)

	assert.ErrorIs(t, rt.Pause("ghost"), domain.ErrNotRunning)
	assert.ErrorIs(t, rt.Resume("ghost"), domain.ErrNotRunning)
	assert.ErrorIs(t, rt.Cancel("ghost"), domain.ErrNotRunning)

	_, err := rt.Wait(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Close(), domain.ErrClosed)

	_, err = rt.Execute(context.Background(), testWorkflow(), nil)
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestRuntimeWorkflowPersistence(t *testing.T) {
	store := storage.NewMemory()
	rt := newRuntime(t, store)
	defer rt.Close()

	wf := testWorkflow()
	require.NoError(t, rt.SaveWorkflow(context.Background(), wf))

	loaded, err := rt.LoadWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, 3)
}
