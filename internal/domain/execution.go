package domain

import (
	"time"
)

// ExecutionStatus is the state machine of a whole execution:
// pending → running → {completed, failed, cancelled}, with
// running ⇄ paused driven externally.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution can no longer change state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// NodeStatus is the per-node state: completed/failed only after dispatch,
// skipped only when a predecessor's outcome made the node unreachable.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the node has settled.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}

// NodeExecutionStatus is the per-node progress record streamed to the
// sink after every state change.
type NodeExecutionStatus struct {
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      Value      `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NodeFailure records one node-level failure for post-mortem audit.
type NodeFailure struct {
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
}

// Execution is the runtime state of one workflow run. It is mutated only
// by the engine goroutine driving level advancement; workers hand results
// back over a channel.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	Status       ExecutionStatus `json:"status"`
	CurrentLevel int             `json:"current_level"`
	TotalLevels  int             `json:"total_levels"`

	NodeStatuses map[string]*NodeExecutionStatus `json:"node_statuses"`
	NodeResults  map[string]Value                `json:"node_results"`
	Variables    map[string]Value                `json:"variables"`
	Errors       []NodeFailure                   `json:"errors,omitempty"`

	CompletedNodes int `json:"completed_nodes"`
	TotalNodes     int `json:"total_nodes"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewExecution builds the initial pending state for a run, with every
// node of the execution order marked pending.
func NewExecution(id, workflowID string, order [][]string) *Execution {
	exec := &Execution{
		ID:           id,
		WorkflowID:   workflowID,
		Status:       ExecutionStatusPending,
		TotalLevels:  len(order),
		NodeStatuses: make(map[string]*NodeExecutionStatus),
		NodeResults:  make(map[string]Value),
		Variables:    make(map[string]Value),
	}
	for _, level := range order {
		for _, nodeID := range level {
			exec.NodeStatuses[nodeID] = &NodeExecutionStatus{
				NodeID: nodeID,
				Status: NodeStatusPending,
			}
			exec.TotalNodes++
		}
	}
	return exec
}

// Progress summarizes completion over all nodes that were not skipped
// before starting.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ComputeProgress derives the current progress snapshot.
func (e *Execution) ComputeProgress() Progress {
	skipped := 0
	for _, ns := range e.NodeStatuses {
		if ns.Status == NodeStatusSkipped {
			skipped++
		}
	}
	p := Progress{
		Completed: e.CompletedNodes,
		Total:     e.TotalNodes - skipped,
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}
