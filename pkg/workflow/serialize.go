package workflow

import (
	"encoding/json"
	"fmt"
)

const exportVersion = 1

type exportedPort struct {
	Name     string   `json:"name"`
	DataType string   `json:"dataType"`
	LinkType LinkType `json:"linkType"`
}

type exportedNode struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Version    int                    `json:"version"`
	Position   Position               `json:"position"`
	IsTrigger  bool                   `json:"isTrigger"`
	Disabled   bool                   `json:"disabled"`
	Annotation string                 `json:"annotation,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Inputs     []exportedPort         `json:"inputs"`
	Outputs    []exportedPort         `json:"outputs"`

	RetryOnFail    bool       `json:"retryOnFail,omitempty"`
	MaxRetries     int        `json:"maxRetries,omitempty"`
	RetryDelay     RetryDelay `json:"retryDelay,omitempty"`
	ContinueOnFail bool       `json:"continueOnFail,omitempty"`
}

type exportedLinkTarget struct {
	TargetNode     string   `json:"targetNode"`
	OutputPortName string   `json:"outputPortName"`
	LinkType       LinkType `json:"linkType"`
	Condition      string   `json:"condition,omitempty"`
}

// exportedDocument is the stable JSON shape workflows round-trip through.
type exportedDocument struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`

	Nodes []exportedNode `json:"nodes"`
	// sourceName -> targetInput -> targets
	LinksBySource map[string]map[string][]exportedLinkTarget `json:"linksBySource"`

	Settings   Settings               `json:"settings"`
	StaticData map[string]interface{} `json:"staticData"`
	MockData   map[string]NodeOutput  `json:"mockData,omitempty"`
}

// Export serializes the workflow to its stable JSON shape.
func (w *Workflow) Export() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc := exportedDocument{
		Version:       exportVersion,
		ID:            w.ID,
		Name:          w.Name,
		LinksBySource: make(map[string]map[string][]exportedLinkTarget),
		Settings:      w.Settings,
		StaticData:    w.StaticData,
		MockData:      w.MockData,
	}

	for _, name := range w.nodeOrder {
		n := w.nodes[name]
		en := exportedNode{
			ID: n.ID, Name: n.Name, Type: n.Type, Version: n.Version,
			Position: n.Position, IsTrigger: n.IsTrigger, Disabled: n.Disabled,
			Config:         n.Config(),
			RetryOnFail:    n.RetryOnFail,
			MaxRetries:     n.MaxRetries,
			RetryDelay:     n.RetryDelay,
			ContinueOnFail: n.ContinueOnFail,
		}
		for _, p := range n.inputs {
			en.Inputs = append(en.Inputs, exportedPort(p))
		}
		for _, p := range n.outputs {
			en.Outputs = append(en.Outputs, exportedPort(p))
		}
		doc.Nodes = append(doc.Nodes, en)
	}

	for src, links := range w.linksBySource {
		byInput := make(map[string][]exportedLinkTarget)
		for _, l := range links {
			byInput[l.TargetInput] = append(byInput[l.TargetInput], exportedLinkTarget{
				TargetNode: l.TargetNode, OutputPortName: l.SourceOutput,
				LinkType: l.LinkType, Condition: l.Condition,
			})
		}
		doc.LinksBySource[src] = byInput
	}

	return json.MarshalIndent(doc, "", "  ")
}

// NodeFactory builds a fresh, unconfigured *Node of a registered type. The
// returned node's ports should already be declared (AddInput/AddOutput);
// Import calls Setup with the deserialized config afterward so schema
// validation re-runs.
type NodeFactory func(id, name string, version int) (*Node, error)

// Registry resolves a "type@version" key to a NodeFactory, supplied by
// the caller — the plugin/node-catalog layer lives outside the engine
// core.
type Registry map[string]NodeFactory

func registryKey(nodeType string, version int) string {
	return fmt.Sprintf("%s@%d", nodeType, version)
}

// Register associates a node type+version with its factory.
func (r Registry) Register(nodeType string, version int, factory NodeFactory) {
	r[registryKey(nodeType, version)] = factory
}

// Import parses a previously Export-ed document and reconstructs a Workflow,
// resolving each node's concrete type through registry. Validates the
// export version, that every node type is resolvable, and that every link
// endpoint names an existing node.
func Import(data []byte, registry Registry) (*Workflow, error) {
	var doc exportedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: import: %w", err)
	}
	if doc.Version != exportVersion {
		return nil, fmt.Errorf("workflow: unsupported export format version %d", doc.Version)
	}

	w := New(doc.ID, doc.Name)
	w.Settings = doc.Settings
	if doc.StaticData != nil {
		w.StaticData = doc.StaticData
	}
	w.MockData = doc.MockData

	var missing []string
	for _, en := range doc.Nodes {
		key := registryKey(en.Type, en.Version)
		factory, ok := registry[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		n, err := factory(en.ID, en.Name, en.Version)
		if err != nil {
			return nil, fmt.Errorf("workflow: constructing node %s: %w", en.Name, err)
		}
		// nodeType is authoritative from the serialized form, never the
		// factory's own default.
		n.Type = en.Type
		n.Position = en.Position
		n.IsTrigger = en.IsTrigger
		n.Disabled = en.Disabled
		n.RetryOnFail = en.RetryOnFail
		n.MaxRetries = en.MaxRetries
		n.RetryDelay = en.RetryDelay
		n.ContinueOnFail = en.ContinueOnFail

		if len(en.Config) > 0 {
			if err := n.Setup(en.Config); err != nil {
				return nil, fmt.Errorf("workflow: reapplying config for node %s: %w", en.Name, err)
			}
		}
		if err := w.AddNode(n); err != nil {
			return nil, err
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("workflow: unresolvable node types: %v", missing)
	}

	for src, byInput := range doc.LinksBySource {
		for targetInput, targets := range byInput {
			for _, t := range targets {
				l := &Link{
					SourceNode: src, SourceOutput: t.OutputPortName,
					TargetNode: t.TargetNode, TargetInput: targetInput,
					LinkType: t.LinkType, Condition: t.Condition,
				}
				if err := w.AddLink(l); err != nil {
					return nil, err
				}
			}
		}
	}

	return w, w.Validate()
}
