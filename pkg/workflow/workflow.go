package workflow

import (
	"fmt"
	"sync"

	"github.com/flowcore/dagflow/pkg/engineerr"
)

// Settings are the workflow-level enumerated options.
type Settings struct {
	EnableParallelExecution bool
	MaxParallelExecutions   int // 0 = unlimited
	Timezone                string
	ErrorHandling           string
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{EnableParallelExecution: true, MaxParallelExecutions: 0}
}

// Workflow owns a named collection of nodes (triggers included) and the
// links wiring their ports together. One Workflow is driven by at most one
// concurrent Engine.Execute call at a time.
type Workflow struct {
	ID   string
	Name string

	Settings   Settings
	StaticData map[string]interface{}
	MockData   map[string]NodeOutput

	mu            sync.Mutex
	state         WorkflowState
	nodes         map[string]*Node
	nodeOrder     []string // insertion order, for deterministic layer tie-break
	linksBySource map[string][]*Link
	linksByTarget map[string][]*Link
}

// New constructs an empty workflow ready to accept nodes and links.
func New(id, name string) *Workflow {
	return &Workflow{
		ID:            id,
		Name:          name,
		Settings:      DefaultSettings(),
		StaticData:    make(map[string]interface{}),
		state:         WorkflowIdle,
		nodes:         make(map[string]*Node),
		linksBySource: make(map[string][]*Link),
		linksByTarget: make(map[string][]*Link),
	}
}

// AddNode registers a node under its Name. The workflow exclusively owns
// its nodes from this point on.
func (w *Workflow) AddNode(n *Node) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.nodes[n.Name]; exists {
		return fmt.Errorf("workflow: duplicate node name %q", n.Name)
	}
	w.nodes[n.Name] = n
	w.nodeOrder = append(w.nodeOrder, n.Name)
	return nil
}

// AddLink wires a source node's output port to a target node's input port.
// Both endpoints must already exist and their ports' dataType tags must
// match exactly.
func (w *Workflow) AddLink(l *Link) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	src, ok := w.nodes[l.SourceNode]
	if !ok {
		return fmt.Errorf("workflow: link source node %q does not exist", l.SourceNode)
	}
	tgt, ok := w.nodes[l.TargetNode]
	if !ok {
		return fmt.Errorf("workflow: link target node %q does not exist", l.TargetNode)
	}
	srcPort, ok := findPort(src.outputs, l.SourceOutput)
	if !ok {
		return fmt.Errorf("workflow: node %q has no output port %q", l.SourceNode, l.SourceOutput)
	}
	tgtPort, ok := findPort(tgt.inputs, l.TargetInput)
	if !ok {
		return fmt.Errorf("workflow: node %q has no input port %q", l.TargetNode, l.TargetInput)
	}
	if srcPort.DataType != tgtPort.DataType {
		return fmt.Errorf("workflow: link %s.%s -> %s.%s: dataType mismatch (%s != %s)",
			l.SourceNode, l.SourceOutput, l.TargetNode, l.TargetInput, srcPort.DataType, tgtPort.DataType)
	}
	if l.LinkType == "" {
		l.LinkType = LinkStandard
	}

	w.linksBySource[l.SourceNode] = append(w.linksBySource[l.SourceNode], l)
	w.linksByTarget[l.TargetNode] = append(w.linksByTarget[l.TargetNode], l)
	return nil
}

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// GetNode looks up a node by name.
func (w *Workflow) GetNode(name string) (*Node, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	return n, ok
}

// Nodes returns every node in insertion order (the deterministic
// tie-break order used by topological layering).
func (w *Workflow) Nodes() []*Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Node, 0, len(w.nodeOrder))
	for _, name := range w.nodeOrder {
		out = append(out, w.nodes[name])
	}
	return out
}

// LinksBySource returns the outgoing links of a node, in declaration order.
func (w *Workflow) LinksBySource(name string) []*Link {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Link(nil), w.linksBySource[name]...)
}

// LinksByTarget returns the incoming links of a node, in declaration order.
func (w *Workflow) LinksByTarget(name string) []*Link {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Link(nil), w.linksByTarget[name]...)
}

// State returns the workflow's current execution state.
func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// TransitionTo sets the workflow state. Owned exclusively by the engine
// orchestrator: callers outside pkg/engine should not call this.
func (w *Workflow) TransitionTo(s WorkflowState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Reset resets every non-trigger node to Idle and clears no workflow-level
// execution state of its own (the engine owns that in its StateManager);
// trigger state and output are left untouched so the data that seeded the
// last run survives to seed the next. Idempotent: Reset(); Reset()
// behaves as one reset.
func (w *Workflow) Reset() {
	w.mu.Lock()
	nodes := make([]*Node, 0, len(w.nodes))
	for _, n := range w.nodes {
		nodes = append(nodes, n)
	}
	w.mu.Unlock()

	for _, n := range nodes {
		if n.IsTrigger {
			continue
		}
		n.Reset()
	}
}

// Validate checks the structural invariants the engine relies on: every
// node name is unique (guaranteed by AddNode), every link's endpoints
// resolve to existing nodes (guaranteed by AddLink), and every node's
// declared ports are internally unique (guaranteed at construction). It
// additionally re-checks link endpoint existence for workflows assembled
// via Import, where links may have been deserialized directly.
func (w *Workflow) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.nodes) == 0 {
		return fmt.Errorf("workflow: must contain at least one node")
	}
	for src, links := range w.linksBySource {
		if _, ok := w.nodes[src]; !ok {
			return fmt.Errorf("workflow: linksBySource references missing node %q", src)
		}
		for _, l := range links {
			if _, ok := w.nodes[l.TargetNode]; !ok {
				return fmt.Errorf("workflow: link target %q does not exist", l.TargetNode)
			}
		}
	}
	return nil
}

// TriggerNode returns the named node only if it is a trigger, else an
// error matching the engine's admission check.
func (w *Workflow) TriggerNode(name string) (*Node, error) {
	n, ok := w.GetNode(name)
	if !ok {
		return nil, fmt.Errorf("workflow: trigger node %q not found", name)
	}
	if !n.IsTrigger {
		return nil, fmt.Errorf("workflow: node %q is not a trigger", name)
	}
	return n, nil
}

// TryStart is the engine's admission gate: atomically checks-and-sets
// state to Running so that of two concurrent callers exactly one
// observes success.
func (w *Workflow) TryStart() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WorkflowRunning {
		return engineerr.AlreadyRunningError(w.ID)
	}
	w.state = WorkflowRunning
	return nil
}
