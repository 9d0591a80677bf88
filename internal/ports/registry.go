package ports

import (
	"context"
	"time"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// HandlerContext carries run-scoped metadata into a block handler.
type HandlerContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	BlockType   string
	// Variables is a read-only snapshot of the current variable context.
	Variables map[string]domain.Value
}

// Handler is the capability behind an opaque block type: probes, scans,
// SSH exec, agent operations. Handlers receive template-resolved
// parameters and return a single output value.
type Handler interface {
	Execute(ctx context.Context, params map[string]domain.Value, hctx HandlerContext) (domain.Value, error)

	// Timeout is the handler's declared per-call ceiling. Zero defers to
	// the engine default.
	Timeout() time.Duration
}

// HandlerFunc adapts a plain function into a Handler without a declared
// timeout.
type HandlerFunc func(ctx context.Context, params map[string]domain.Value, hctx HandlerContext) (domain.Value, error)

func (f HandlerFunc) Execute(ctx context.Context, params map[string]domain.Value, hctx HandlerContext) (domain.Value, error) {
	return f(ctx, params, hctx)
}

func (f HandlerFunc) Timeout() time.Duration { return 0 }

// HandlerRegistry maps block-type strings to executable capabilities.
// Unknown types fail at dispatch time, not compile time, since the
// registry may be populated independently of graph validation.
type HandlerRegistry interface {
	Register(blockType string, handler Handler) error
	Dispatch(ctx context.Context, blockType string, params map[string]domain.Value, hctx HandlerContext) (domain.Value, error)
	Has(blockType string) bool
	Types() []string
}
