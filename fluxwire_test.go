package fluxwire_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire-io/fluxwire"
)

func TestFacadeEndToEnd(t *testing.T) {
	rt, err := fluxwire.New(fluxwire.DefaultConfig(), fluxwire.NewMemoryStore(), nil)
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.RegisterHandler("net.probe", fluxwire.HandlerFunc(
		func(_ context.Context, params map[string]fluxwire.Value, _ fluxwire.HandlerContext) (fluxwire.Value, error) {
			return params["target"], nil
		})))

	wf := &fluxwire.Workflow{
		ID: "wf-facade",
		Nodes: []fluxwire.Node{
			{ID: "start", Type: fluxwire.TypeStart},
			{ID: "probe", Type: "net.probe", Parameters: map[string]fluxwire.Value{"target": "{{host}}"}},
			{ID: "end", Type: fluxwire.TypeEnd},
		},
		Edges: []fluxwire.Edge{
			{ID: "e1", Source: "start", Target: "probe"},
			{ID: "e2", Source: "probe", Target: "end"},
		},
	}

	result := rt.Compile(wf)
	require.True(t, result.Valid)
	assert.Equal(t, 3, result.TotalLevels)

	exec, err := rt.ExecuteSync(context.Background(), wf, map[string]fluxwire.Value{"host": "gw-1"})
	require.NoError(t, err)
	assert.Equal(t, fluxwire.StatusCompleted, exec.Status)
	assert.Equal(t, "gw-1", exec.NodeResults["probe"])

	stored, err := rt.LoadExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, fluxwire.StatusCompleted, stored.Status)
}
