package domain

import (
	"time"
)

// Event is anything the engine publishes to the progress sink. Delivery
// is best effort and must never block node dispatch.
type Event interface {
	EventKind() string
}

type ExecutionStartedEvent struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	TotalLevels int       `json:"total_levels"`
	TotalNodes  int       `json:"total_nodes"`
	StartedAt   time.Time `json:"started_at"`
}

func (ExecutionStartedEvent) EventKind() string { return "execution.started" }

type ExecutionFinishedEvent struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Errors      []NodeFailure   `json:"errors,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

func (ExecutionFinishedEvent) EventKind() string { return "execution.finished" }

type ExecutionPausedEvent struct {
	ExecutionID string    `json:"execution_id"`
	Level       int       `json:"level"`
	PausedAt    time.Time `json:"paused_at"`
}

func (ExecutionPausedEvent) EventKind() string { return "execution.paused" }

type ExecutionResumedEvent struct {
	ExecutionID string    `json:"execution_id"`
	Level       int       `json:"level"`
	ResumedAt   time.Time `json:"resumed_at"`
}

func (ExecutionResumedEvent) EventKind() string { return "execution.resumed" }

// NodeStatusEvent is the per-node delta emitted after every node state
// change.
type NodeStatusEvent struct {
	ExecutionID string              `json:"execution_id"`
	Node        NodeExecutionStatus `json:"node"`
}

func (NodeStatusEvent) EventKind() string { return "node.status" }

// ProgressEvent is the aggregate emitted after each node settles.
type ProgressEvent struct {
	ExecutionID string   `json:"execution_id"`
	Level       int      `json:"level"`
	Progress    Progress `json:"progress"`
}

func (ProgressEvent) EventKind() string { return "execution.progress" }
