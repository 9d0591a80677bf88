package domain

import (
	json "github.com/goccy/go-json"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Control-flow block types the engine recognizes natively. Every other
// node type is an opaque handler dispatch through the registry.
const (
	TypeStart       = "control.start"
	TypeEnd         = "control.end"
	TypeDelay       = "control.delay"
	TypeCondition   = "control.condition"
	TypeLoop        = "control.loop"
	TypeVariableSet = "control.variable_set"
)

// Named ports on a node's input/output side. Conditions route through
// "true"/"false", loops through "iteration"/"complete".
const (
	HandleOut       = "out"
	HandleIn        = "in"
	HandleTrue      = "true"
	HandleFalse     = "false"
	HandleIteration = "iteration"
	HandleComplete  = "complete"
)

// ErrorPolicy controls what happens to the rest of the graph when a
// node's handler returns an error.
type ErrorPolicy string

const (
	ErrorPolicyStop       ErrorPolicy = "stop"
	ErrorPolicyContinue   ErrorPolicy = "continue"
	ErrorPolicySkipBranch ErrorPolicy = "skip-branch"
)

// Workflow is the persisted graph definition. The engine never executes
// a Workflow directly; it compiles an immutable snapshot first.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Settings  Settings       `json:"settings"`
	Variables []Variable     `json:"variables,omitempty"`
}

// Node is a typed block in the graph. Parameters may contain {{name}}
// template tokens resolved immediately before dispatch.
type Node struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Parameters map[string]Value `json:"parameters,omitempty"`
	Position   Position         `json:"position"`
}

// Position is UI layout metadata. The engine ignores it entirely.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two node ports.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// SourcePort returns the named output port, defaulting to "out".
func (e Edge) SourcePort() string {
	if e.SourceHandle == "" {
		return HandleOut
	}
	return e.SourceHandle
}

// TargetPort returns the named input port, defaulting to "in".
func (e Edge) TargetPort() string {
	if e.TargetHandle == "" {
		return HandleIn
	}
	return e.TargetHandle
}

// Settings hold per-workflow execution policy.
type Settings struct {
	// Timeout is the whole-execution deadline in seconds. Zero means the
	// engine default applies.
	Timeout int `json:"timeout,omitempty"`
	// OnError selects the error-propagation policy. Empty means "stop".
	OnError ErrorPolicy `json:"on_error,omitempty"`
	// MaxParallel is the concurrent-node ceiling per execution.
	MaxParallel int `json:"max_parallel,omitempty"`
}

// Policy returns the effective error policy.
func (s Settings) Policy() ErrorPolicy {
	if s.OnError == "" {
		return ErrorPolicyStop
	}
	return s.OnError
}

// Variable is a declared workflow variable with an optional default.
type Variable struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default Value  `json:"default,omitempty"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Clone produces a deep copy of the workflow. Compilation and execution
// operate on clones so that concurrent mutation of the stored definition
// can never corrupt a run.
func (w *Workflow) Clone() (*Workflow, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, NewWorkflowError(w.ID, "clone_marshal", err)
	}
	var copied Workflow
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, NewWorkflowError(w.ID, "clone_unmarshal", err)
	}
	return &copied, nil
}
