package ports

import (
	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// ProgressSink receives node deltas and aggregate progress. Publish is
// fire-and-forget: implementations buffer or drop, they never block the
// engine's dispatch path.
type ProgressSink interface {
	Publish(executionID string, event domain.Event)
}

// SubscriberRegistry is a ProgressSink with a per-execution subscribe
// lifecycle. Subscriptions are scoped to a single execution and torn
// down when it finalizes.
type SubscriberRegistry interface {
	ProgressSink

	Subscribe(executionID string) (<-chan domain.Event, func())
	CloseExecution(executionID string)
}
