package ports

import (
	"context"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// ExecutionStore is the persistence boundary. The engine saves at least
// once per completed level and once at terminal state, and never reads
// back its own writes mid-run. The store may be slow or unreliable;
// engine correctness does not depend on it.
type ExecutionStore interface {
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	LoadWorkflow(ctx context.Context, id string) (*domain.Workflow, error)

	SaveExecution(ctx context.Context, exec *domain.Execution) error
	LoadExecution(ctx context.Context, id string) (*domain.Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*domain.Execution, error)

	Close() error
}
