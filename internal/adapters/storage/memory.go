package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// Memory is an in-process ExecutionStore. Records are kept as encoded
// snapshots so callers see the same copy semantics as the durable store.
type Memory struct {
	mu         sync.RWMutex
	workflows  map[string][]byte
	executions map[string][]byte
	byWorkflow map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[string][]byte),
		executions: make(map[string][]byte),
		byWorkflow: make(map[string][]string),
	}
}

func (m *Memory) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("%w: workflow without id", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return domain.NewWorkflowError(wf.ID, "marshal", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = raw
	return nil
}

func (m *Memory) LoadWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	m.mu.RLock()
	raw, ok := m.workflows[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrNotFound, id)
	}
	var wf domain.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, domain.NewWorkflowError(id, "unmarshal", err)
	}
	return &wf, nil
}

func (m *Memory) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("%w: execution without id", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution %s: %w", exec.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.executions[exec.ID]; !seen {
		m.byWorkflow[exec.WorkflowID] = append(m.byWorkflow[exec.WorkflowID], exec.ID)
	}
	m.executions[exec.ID] = raw
	return nil
}

func (m *Memory) LoadExecution(ctx context.Context, id string) (*domain.Execution, error) {
	m.mu.RLock()
	raw, ok := m.executions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: execution %s", domain.ErrNotFound, id)
	}
	var exec domain.Execution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", id, err)
	}
	return &exec, nil
}

func (m *Memory) ListExecutions(ctx context.Context, workflowID string) ([]*domain.Execution, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.byWorkflow[workflowID]...)
	m.mu.RUnlock()

	sort.Strings(ids)
	executions := make([]*domain.Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := m.LoadExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (m *Memory) Close() error {
	return nil
}
