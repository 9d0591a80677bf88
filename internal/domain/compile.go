package domain

// CompileErrorType classifies a validation failure or warning produced
// by the compiler.
type CompileErrorType string

const (
	CompileInvalidNode     CompileErrorType = "invalid_node"
	CompileInvalidEdge     CompileErrorType = "invalid_edge"
	CompileMissingStart    CompileErrorType = "missing_start"
	CompileMissingEnd      CompileErrorType = "missing_end"
	CompileCycle           CompileErrorType = "cycle"
	CompileUnreachableNode CompileErrorType = "unreachable_node"
)

// CompileError is a single validation finding. Unreachable nodes are
// warnings; every other type invalidates the graph.
type CompileError struct {
	Type    CompileErrorType `json:"type"`
	Message string           `json:"message"`
	NodeID  string           `json:"node_id,omitempty"`
}

func (e CompileError) Error() string {
	return string(e.Type) + ": " + e.Message
}

// Fatal reports whether this finding invalidates the graph.
func (e CompileError) Fatal() bool {
	return e.Type != CompileUnreachableNode
}

// CompileResult is the compiler's output: either a list of fatal errors,
// or an ordered list of execution levels. Each level is a set of node
// ids that are safe to run concurrently; node ids within a level are
// sorted so recompiling the same graph is idempotent.
type CompileResult struct {
	Valid          bool           `json:"valid"`
	Errors         []CompileError `json:"errors,omitempty"`
	ExecutionOrder [][]string     `json:"execution_order,omitempty"`
	TotalLevels    int            `json:"total_levels"`
}

// Level returns the level index of a node id, or -1 when the node is
// not part of the execution order (unreachable or invalid graph).
func (r CompileResult) Level(nodeID string) int {
	for i, level := range r.ExecutionOrder {
		for _, id := range level {
			if id == nodeID {
				return i
			}
		}
	}
	return -1
}
