package domain

import (
	"fmt"
	"time"
)

// EngineConfig holds process-wide engine defaults. Per-workflow settings
// override the defaults where they are set.
type EngineConfig struct {
	// DefaultMaxParallel is the worker-pool size used when a workflow
	// does not set settings.max_parallel.
	DefaultMaxParallel int

	// DefaultTimeout bounds a whole execution when settings.timeout is
	// zero. Zero disables the engine-level default deadline.
	DefaultTimeout time.Duration

	// HandlerTimeout bounds a single handler dispatch when the handler
	// does not declare its own timeout. Zero means unbounded.
	HandlerTimeout time.Duration

	// CancelGrace is how long in-flight handlers get to finish after a
	// cancellation or deadline before being recorded as failed.
	CancelGrace time.Duration

	// MaxLoopIterations caps condition-mode loops.
	MaxLoopIterations int

	// EventBuffer is the per-subscriber channel depth for the progress
	// sink; full subscribers drop deltas rather than block dispatch.
	EventBuffer int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMaxParallel: 4,
		DefaultTimeout:     0,
		HandlerTimeout:     60 * time.Second,
		CancelGrace:        5 * time.Second,
		MaxLoopIterations:  1000,
		EventBuffer:        256,
	}
}

func (c EngineConfig) Validate() error {
	if c.DefaultMaxParallel < 1 {
		return fmt.Errorf("%w: default max parallel must be positive, got %d", ErrInvalidInput, c.DefaultMaxParallel)
	}
	if c.MaxLoopIterations < 1 {
		return fmt.Errorf("%w: max loop iterations must be positive, got %d", ErrInvalidInput, c.MaxLoopIterations)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("%w: event buffer must be positive, got %d", ErrInvalidInput, c.EventBuffer)
	}
	if c.CancelGrace < 0 {
		return fmt.Errorf("%w: cancel grace must not be negative", ErrInvalidInput)
	}
	return nil
}

// MaxParallelFor resolves the effective pool size for a workflow.
func (c EngineConfig) MaxParallelFor(s Settings) int {
	if s.MaxParallel > 0 {
		return s.MaxParallel
	}
	return c.DefaultMaxParallel
}

// DeadlineFor resolves the effective whole-execution deadline. Zero
// means no deadline.
func (c EngineConfig) DeadlineFor(s Settings) time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	return c.DefaultTimeout
}
