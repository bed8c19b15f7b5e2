package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowcore/dagflow/pkg/engineerr"
)

// NodeContext is handed to a node's Process method: the collected per-port
// input plus a read-only view of every upstream node's last output,
// addressable by node name.
type NodeContext struct {
	context.Context
	Input  NodeInput
	State  map[string]NodeOutput
	Config map[string]interface{}
}

// NodeProcessor is the one method a concrete node type supplies. A
// processor should be idempotent enough to tolerate being re-run under
// retry; ownership of side effects is the implementer's.
type NodeProcessor interface {
	Process(ctx *NodeContext) (NodeOutput, error)
}

// ProcessorFunc adapts a bare function to NodeProcessor.
type ProcessorFunc func(ctx *NodeContext) (NodeOutput, error)

func (f ProcessorFunc) Process(ctx *NodeContext) (NodeOutput, error) { return f(ctx) }

// Node is the runtime entity wrapping a NodeProcessor with fixed lifecycle
// machinery: state transitions, port registration, config validation and
// merging, and result buffering. Concrete node types are built by
// constructing a *Node with NewNode and supplying a NodeProcessor; nothing
// about the surrounding machinery is overridable.
type Node struct {
	ID       string
	Name     string
	Type     string
	Version  int
	Position Position

	IsTrigger bool
	Disabled  bool

	RetryOnFail    bool
	MaxRetries     int
	RetryDelay     RetryDelay
	ContinueOnFail bool

	processor NodeProcessor
	schema    *jsonschema.Schema

	inputs      []Port
	outputs     []Port
	inputNames  map[string]bool
	outputNames map[string]bool

	mu      sync.Mutex
	state   NodeState
	config  map[string]interface{}
	results NodeOutput
	lastErr error
}

// NewNode constructs a node of the given stable type string, bound to the
// supplied processor. nodeType is authoritative and cannot be overridden
// by caller-supplied config.
func NewNode(id, name, nodeType string, processor NodeProcessor) *Node {
	return &Node{
		ID:          id,
		Name:        name,
		Type:        nodeType,
		processor:   processor,
		inputNames:  make(map[string]bool),
		outputNames: make(map[string]bool),
		state:       NodeIdle,
	}
}

// AddInput registers an input port on this node's constructor-time contract.
func (n *Node) AddInput(name, dataType string, linkType LinkType) *Node {
	if linkType == "" {
		linkType = LinkStandard
	}
	if n.inputNames[name] {
		panic(fmt.Sprintf("workflow: duplicate input port %q on node %q", name, n.Name))
	}
	n.inputNames[name] = true
	n.inputs = append(n.inputs, Port{Name: name, DataType: dataType, LinkType: linkType})
	return n
}

// AddOutput registers an output port on this node's constructor-time contract.
func (n *Node) AddOutput(name, dataType string, linkType LinkType) *Node {
	if linkType == "" {
		linkType = LinkStandard
	}
	if n.outputNames[name] {
		panic(fmt.Sprintf("workflow: duplicate output port %q on node %q", name, n.Name))
	}
	n.outputNames[name] = true
	n.outputs = append(n.outputs, Port{Name: name, DataType: dataType, LinkType: linkType})
	return n
}

func (n *Node) Inputs() []Port  { return append([]Port(nil), n.inputs...) }
func (n *Node) Outputs() []Port { return append([]Port(nil), n.outputs...) }

// WithSchema compiles and attaches a JSON Schema against which future
// Setup calls validate node configuration. schemaJSON is the raw schema
// document.
func (n *Node) WithSchema(schemaJSON []byte) (*Node, error) {
	c := jsonschema.NewCompiler()
	name := n.Name + ".schema.json"
	if err := c.AddResource(name, strings.NewReader(string(schemaJSON))); err != nil {
		return nil, fmt.Errorf("workflow: compiling schema for node %s: %w", n.Name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("workflow: compiling schema for node %s: %w", n.Name, err)
	}
	n.schema = s
	return n, nil
}

// Setup merges config into any existing configuration so repeated
// refinement accumulates, validates the merged result against the node's
// optional schema, and keeps it only if valid. With a schema, the stored
// values are their JSON-decoded forms (numbers become float64). A
// validation failure raises a ConfigurationError naming the first failing
// JSON-Pointer path and leaves the existing configuration unchanged.
func (n *Node) Setup(config map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	merged := make(map[string]interface{}, len(n.config)+len(config))
	for k, v := range n.config {
		merged[k] = v
	}
	for k, v := range config {
		merged[k] = v
	}

	if n.schema != nil {
		raw, err := json.Marshal(merged)
		if err != nil {
			return engineerr.ConfigurationError(n.Name, "", err.Error())
		}
		var v map[string]interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return engineerr.ConfigurationError(n.Name, "", err.Error())
		}
		if err := n.schema.Validate(v); err != nil {
			path, msg := firstValidationFailure(err)
			return engineerr.ConfigurationError(n.Name, path, msg)
		}
		merged = v
	}

	n.config = merged
	return nil
}

// firstValidationFailure descends a jsonschema.ValidationError tree to the
// first leaf cause, returning its instance location and message so the
// caller gets a concrete JSON-Pointer path rather than the library's nested
// summary.
func firstValidationFailure(err error) (path, msg string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.InstanceLocation, ve.Message
}

// Config returns a copy of the node's current configuration.
func (n *Node) Config() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]interface{}, len(n.config))
	for k, v := range n.config {
		out[k] = v
	}
	return out
}

// State returns the node's current lifecycle state.
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetState enforces the legal-transition table; any other edge raises
// IllegalStateError naming both endpoints.
func (n *Node) SetState(target NodeState) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setStateLocked(target)
}

func (n *Node) setStateLocked(target NodeState) error {
	if !legalNodeTransitions[n.state][target] {
		return engineerr.IllegalStateError(n.Name, string(n.state), string(target))
	}
	n.state = target
	return nil
}

// Run is the engine-facing entry point. Preconditions: state is Idle.
// Transitions Idle->Running, invokes Process, on success stores the result
// and transitions Running->Completed; on error it records the error,
// transitions Running->Failed, and returns the error.
func (n *Node) Run(ctx *NodeContext) (NodeOutput, error) {
	n.mu.Lock()
	if err := n.setStateLocked(NodeRunning); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.mu.Unlock()

	out, err := n.processor.Process(ctx)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.lastErr = err
		// Running->Failed is always legal; ignore the (impossible) error.
		_ = n.setStateLocked(NodeFailed)
		return nil, err
	}
	n.results = out
	n.lastErr = nil
	_ = n.setStateLocked(NodeCompleted)
	return out, nil
}

// Seed directly completes a node with the given output, bypassing Process.
// Used by trigger implementations to store fire(data) as their own
// result; requires the node be Idle, exactly like Run.
func (n *Node) Seed(output NodeOutput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.setStateLocked(NodeRunning); err != nil {
		return err
	}
	n.results = output
	n.lastErr = nil
	return n.setStateLocked(NodeCompleted)
}

// Reset clears results and error and returns the node to Idle.
// Configuration is preserved.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = nil
	n.lastErr = nil
	n.state = NodeIdle
}

// Stop returns a Completed or Failed node to Idle without clearing results
// or error, so a node's internal counters (not modeled here, but owned by
// the concrete NodeProcessor) survive a retry cycle. No-op if already
// Idle or Running.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == NodeCompleted || n.state == NodeFailed {
		n.state = NodeIdle
	}
}

// GetResult returns the single port's carried value and whether it was set.
func (n *Node) GetResult(port string) (PortValue, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.results[port]
	return v, ok
}

// GetAllResults returns a copy of every output port's carried value.
func (n *Node) GetAllResults() NodeOutput {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(NodeOutput, len(n.results))
	for k, v := range n.results {
		out[k] = v
	}
	return out
}

// LastError returns the error recorded by the most recent failed Run, if any.
func (n *Node) LastError() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastErr
}
