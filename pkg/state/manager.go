// Package state implements the execution state manager: a per-execution
// ledger of each node's last completed output plus its timing/status
// metadata, with defensive-copy export/import for the persistence hook.
package state

import (
	"sync"
	"time"

	"github.com/flowcore/dagflow/pkg/workflow"
)

// Snapshot is a by-value copy of the manager's full contents, suitable
// for handing to a persistence hook without risk of the hook mutating
// live state; the hook must not mutate what it receives.
type Snapshot struct {
	State    map[string]workflow.NodeOutput
	Metadata map[string]workflow.NodeExecutionMetadata
}

// Manager holds one execution's per-node output snapshot and metadata.
// Owned by the engine for the engine's lifetime; Clear is called at the
// start of every Execute.
type Manager struct {
	mu       sync.RWMutex
	state    map[string]workflow.NodeOutput
	metadata map[string]workflow.NodeExecutionMetadata
}

// New constructs an empty manager.
func New() *Manager {
	return &Manager{
		state:    make(map[string]workflow.NodeOutput),
		metadata: make(map[string]workflow.NodeExecutionMetadata),
	}
}

// RecordNodeStart writes metadata with startTime=now, status=Running.
func (m *Manager) RecordNodeStart(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[name] = workflow.NodeExecutionMetadata{StartTime: time.Now(), Status: workflow.NodeRunning}
}

// RecordNodeEnd sets endTime=now (duration derives from it) and updates status.
func (m *Manager) RecordNodeEnd(name string, status workflow.NodeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.metadata[name]
	meta.EndTime = time.Now()
	meta.Status = status
	m.metadata[name] = meta
}

// SetNodeState records a node's completed output.
//
// A nil output is stored as an empty NodeOutput{}, so a node recorded here
// with no output still reads back as a non-nil value. Metadata is recorded
// separately; this call does not touch it.
func (m *Manager) SetNodeState(name string, output workflow.NodeOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if output == nil {
		output = workflow.NodeOutput{}
	}
	m.state[name] = output
}

// GetNodeState returns a node's recorded output, if any.
func (m *Manager) GetNodeState(name string) (workflow.NodeOutput, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, ok := m.state[name]
	return out, ok
}

// GetNodeMetadata returns a node's recorded metadata, if any.
func (m *Manager) GetNodeMetadata(name string) (workflow.NodeExecutionMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metadata[name]
	return meta, ok
}

// GetState returns a defensive copy of the full state snapshot.
func (m *Manager) GetState() map[string]workflow.NodeOutput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]workflow.NodeOutput, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

// Clear empties both state and metadata. Called at the start of every
// Execute.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]workflow.NodeOutput)
	m.metadata = make(map[string]workflow.NodeExecutionMetadata)
}

// Export returns a by-value snapshot for the persistence hook.
func (m *Manager) Export() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:    make(map[string]workflow.NodeOutput, len(m.state)),
		Metadata: make(map[string]workflow.NodeExecutionMetadata, len(m.metadata)),
	}
	for k, v := range m.state {
		s.State[k] = v
	}
	for k, v := range m.metadata {
		s.Metadata[k] = v
	}
	return s
}

// Import replaces the manager's contents with a by-value snapshot, e.g.
// from a persistence hook's recover.
func (m *Manager) Import(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]workflow.NodeOutput, len(s.State))
	for k, v := range s.State {
		m.state[k] = v
	}
	m.metadata = make(map[string]workflow.NodeExecutionMetadata, len(s.Metadata))
	for k, v := range s.Metadata {
		m.metadata[k] = v
	}
}
