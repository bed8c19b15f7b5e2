// Package workflow holds the DAG data model: nodes, ports, links, and the
// workflow container that owns them, plus the node runtime lifecycle.
package workflow

import "time"

// LinkType distinguishes a port/link's role. Standard ports carry the main
// data flow; Alternative ports carry secondary or error-branch data.
type LinkType string

const (
	LinkStandard    LinkType = "standard"
	LinkAlternative LinkType = "alternative"
)

// NodeState is the per-node lifecycle state machine.
type NodeState string

const (
	NodeIdle      NodeState = "idle"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
)

// legalNodeTransitions enumerates the only edges Node.SetState accepts.
var legalNodeTransitions = map[NodeState]map[NodeState]bool{
	NodeIdle:      {NodeRunning: true},
	NodeRunning:   {NodeCompleted: true, NodeFailed: true},
	NodeCompleted: {NodeIdle: true},
	NodeFailed:    {NodeIdle: true},
}

// WorkflowState is the per-execution workflow state machine.
type WorkflowState string

const (
	WorkflowIdle      WorkflowState = "idle"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
)

// Position is a UI hint only; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RetryDelay selects a retry backoff strategy by which fields are set: a
// non-zero BaseDelay or MaxDelay means exponential backoff, otherwise Fixed
// gives a fixed delay. In JSON the fixed form is {"fixed": ms}, not a bare
// number.
type RetryDelay struct {
	// Fixed, in milliseconds. Ignored when BaseDelay or MaxDelay is set;
	// zero with neither set means the 1000ms default fixed delay.
	Fixed int64 `json:"fixed,omitempty"`
	// BaseDelay/MaxDelay, in milliseconds, select exponential backoff when
	// either is non-zero.
	BaseDelay int64 `json:"baseDelay,omitempty"`
	MaxDelay  int64 `json:"maxDelay,omitempty"`
}

// IsExponential reports whether this delay spec selects exponential backoff.
func (d RetryDelay) IsExponential() bool {
	return d.BaseDelay != 0 || d.MaxDelay != 0
}

// Port is a named, typed attachment point on a node's input or output side.
type Port struct {
	Name     string   `json:"name"`
	DataType string   `json:"dataType"`
	LinkType LinkType `json:"linkType"`
}

// DataRecord is an opaque string-keyed bag of serializable values.
type DataRecord map[string]interface{}

// PortValue carries either a single record or a non-empty sequence of
// records on one port.
type PortValue struct {
	Records []DataRecord
}

// Single returns the lone record when exactly one is carried, else nil.
func (v PortValue) Single() DataRecord {
	if len(v.Records) == 1 {
		return v.Records[0]
	}
	return nil
}

// IsSequence reports whether this value carries 2+ records.
func (v PortValue) IsSequence() bool {
	return len(v.Records) >= 2
}

func One(r DataRecord) PortValue { return PortValue{Records: []DataRecord{r}} }

func Seq(rs ...DataRecord) PortValue { return PortValue{Records: rs} }

// NodeOutput maps output-port name to its carried value.
type NodeOutput map[string]PortValue

// NodeInput maps input-port name to its carried value.
type NodeInput map[string]PortValue

// NodeExecutionMetadata is one record per node per execution.
type NodeExecutionMetadata struct {
	StartTime time.Time
	EndTime   time.Time
	Status    NodeState
}

// Duration derives end-start, or zero if not yet ended.
func (m NodeExecutionMetadata) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}
