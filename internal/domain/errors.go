package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidGraph   = errors.New("graph failed compilation")
	ErrAlreadyRunning = errors.New("execution already running")
	ErrNotRunning     = errors.New("execution not running")
	ErrNotPaused      = errors.New("execution not paused")
	ErrClosed         = errors.New("already closed")
)

// WorkflowError wraps a failure while handling a workflow definition.
type WorkflowError struct {
	WorkflowID string
	Op         string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow[%s] %s: %v", e.WorkflowID, e.Op, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func NewWorkflowError(workflowID, op string, err error) *WorkflowError {
	return &WorkflowError{WorkflowID: workflowID, Op: op, Err: err}
}

// DispatchError is raised when the registry cannot serve a block type.
type DispatchError struct {
	BlockType string
}

func (e *DispatchError) Error() string {
	return "unknown block type: " + e.BlockType
}

func NewUnknownBlockTypeError(blockType string) *DispatchError {
	return &DispatchError{BlockType: blockType}
}

func IsUnknownBlockType(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

// RuntimeErrorKind classifies a per-node runtime failure.
type RuntimeErrorKind string

const (
	RuntimeTemplateResolution RuntimeErrorKind = "TemplateResolutionError"
	RuntimeHandlerFailure     RuntimeErrorKind = "HandlerFailure"
	RuntimeExecutionTimeout   RuntimeErrorKind = "ExecutionTimeout"
	RuntimeCancelled          RuntimeErrorKind = "Cancelled"
)

// RuntimeError is a node-level failure captured during execution. It is
// recorded on the execution snapshot and drives the on_error policy; it
// never crashes the engine.
type RuntimeError struct {
	Kind   RuntimeErrorKind
	NodeID string
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: node %s: %v", e.Kind, e.NodeID, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewTemplateError(nodeID string, err error) *RuntimeError {
	return &RuntimeError{Kind: RuntimeTemplateResolution, NodeID: nodeID, Err: err}
}

func NewHandlerError(nodeID string, err error) *RuntimeError {
	return &RuntimeError{Kind: RuntimeHandlerFailure, NodeID: nodeID, Err: err}
}

func NewTimeoutError(err error) *RuntimeError {
	return &RuntimeError{Kind: RuntimeExecutionTimeout, Err: err}
}

func NewCancelledError(err error) *RuntimeError {
	return &RuntimeError{Kind: RuntimeCancelled, Err: err}
}

func IsRuntimeKind(err error, kind RuntimeErrorKind) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// ValueError reports a value outside the closed Value set.
type ValueError struct {
	Message string
}

func (e *ValueError) Error() string {
	return e.Message
}

func NewValueError(message string) *ValueError {
	return &ValueError{Message: message}
}
