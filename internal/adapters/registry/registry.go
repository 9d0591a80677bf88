// Package registry maps block-type strings to executable handlers. It
// is the seam between the engine and the platform's block library; the
// engine never knows what a "traffic.ping" actually does.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/fluxwire-io/fluxwire/internal/ports"
)

type Registry struct {
	logger *slog.Logger

	// defaultTimeout bounds a dispatch when the handler declares none.
	defaultTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]ports.Handler
}

func New(defaultTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:         logger.With("component", "handler-registry"),
		defaultTimeout: defaultTimeout,
		handlers:       make(map[string]ports.Handler),
	}
}

// Register binds a handler to an exact block-type string. Re-registering
// a type is rejected so two block libraries cannot silently shadow each
// other at process start.
func (r *Registry) Register(blockType string, handler ports.Handler) error {
	if blockType == "" {
		return fmt.Errorf("%w: empty block type", domain.ErrInvalidInput)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for block type %q", domain.ErrInvalidInput, blockType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[blockType]; exists {
		return fmt.Errorf("%w: block type %q already registered", domain.ErrInvalidInput, blockType)
	}
	r.handlers[blockType] = handler

	r.logger.Debug("handler registered", "block_type", blockType)
	return nil
}

// Dispatch looks up and invokes the handler for a block type. The call
// runs under the handler's declared timeout, falling back to the
// registry default; an unknown type is a dispatch-time error.
func (r *Registry) Dispatch(ctx context.Context, blockType string, params map[string]domain.Value, hctx ports.HandlerContext) (domain.Value, error) {
	r.mu.RLock()
	handler, exists := r.handlers[blockType]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.NewUnknownBlockTypeError(blockType)
	}

	timeout := handler.Timeout()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := handler.Execute(ctx, params, hctx)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeValue(output)
}

func (r *Registry) Has(blockType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[blockType]
	return exists
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
