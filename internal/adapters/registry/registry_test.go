package registry

import (
	"context"
	"testing"
	"time"

	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() ports.Handler {
	return ports.HandlerFunc(func(_ context.Context, params map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
		return params["message"], nil
	})
}

func TestRegisterAndDispatch(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Register("util.echo", echoHandler()))

	out, err := r.Dispatch(context.Background(), "util.echo",
		map[string]domain.Value{"message": "pong"}, ports.HandlerContext{})

	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.True(t, r.Has("util.echo"))
}

func TestDispatchUnknownBlockType(t *testing.T) {
	r := New(0, nil)

	_, err := r.Dispatch(context.Background(), "agent.ghost", nil, ports.HandlerContext{})

	require.Error(t, err)
	assert.True(t, domain.IsUnknownBlockType(err))
	assert.Contains(t, err.Error(), "agent.ghost")
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Register("util.echo", echoHandler()))

	err := r.Register("util.echo", echoHandler())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegisterEmptyTypeRejected(t *testing.T) {
	r := New(0, nil)
	assert.ErrorIs(t, r.Register("", echoHandler()), domain.ErrInvalidInput)
	assert.ErrorIs(t, r.Register("util.nil", nil), domain.ErrInvalidInput)
}

type slowHandler struct {
	timeout time.Duration
}

func (h slowHandler) Execute(ctx context.Context, _ map[string]domain.Value, _ ports.HandlerContext) (domain.Value, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return "finished", nil
	}
}

func (h slowHandler) Timeout() time.Duration { return h.timeout }

func TestDispatchHonorsHandlerTimeout(t *testing.T) {
	r := New(time.Minute, nil)
	require.NoError(t, r.Register("probe.slow", slowHandler{timeout: 20 * time.Millisecond}))

	start := time.Now()
	_, err := r.Dispatch(context.Background(), "probe.slow", nil, ports.HandlerContext{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchNormalizesOutput(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Register("scan.count", ports.HandlerFunc(
		func(context.Context, map[string]domain.Value, ports.HandlerContext) (domain.Value, error) {
			return 42, nil
		})))

	out, err := r.Dispatch(context.Background(), "scan.count", nil, ports.HandlerContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out, "integer outputs normalize to float64")
}

func TestTypesSorted(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Register("b.two", echoHandler()))
	require.NoError(t, r.Register("a.one", echoHandler()))

	assert.Equal(t, []string{"a.one", "b.two"}, r.Types())
}
