package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowcore/dagflow/pkg/state"
	"github.com/flowcore/dagflow/pkg/workflow"
)

func TestRecordStartEnd(t *testing.T) {
	m := state.New()
	m.RecordNodeStart("A")
	meta, ok := m.GetNodeMetadata("A")
	assert.True(t, ok)
	assert.Equal(t, workflow.NodeRunning, meta.Status)
	assert.True(t, meta.EndTime.IsZero())

	m.RecordNodeEnd("A", workflow.NodeCompleted)
	meta, ok = m.GetNodeMetadata("A")
	assert.True(t, ok)
	assert.Equal(t, workflow.NodeCompleted, meta.Status)
	assert.False(t, meta.EndTime.IsZero())
}

func TestSetGetNodeStateDefaultsEmptyNotNil(t *testing.T) {
	m := state.New()
	m.SetNodeState("A", nil)
	out, ok := m.GetNodeState("A")
	assert.True(t, ok)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestClearEmptiesBoth(t *testing.T) {
	m := state.New()
	m.RecordNodeStart("A")
	m.SetNodeState("A", workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"x": 1})})
	m.Clear()
	_, ok := m.GetNodeState("A")
	assert.False(t, ok)
	_, ok = m.GetNodeMetadata("A")
	assert.False(t, ok)
}

func TestExportImportRoundTrip(t *testing.T) {
	m := state.New()
	m.RecordNodeStart("A")
	m.SetNodeState("A", workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"x": 1})})
	m.RecordNodeEnd("A", workflow.NodeCompleted)

	snap := m.Export()

	m2 := state.New()
	m2.Import(snap)

	out, ok := m2.GetNodeState("A")
	assert.True(t, ok)
	assert.Equal(t, 1, out["out"].Single()["x"])

	meta, ok := m2.GetNodeMetadata("A")
	assert.True(t, ok)
	assert.Equal(t, workflow.NodeCompleted, meta.Status)
}

func TestGetStateIsDefensiveCopy(t *testing.T) {
	m := state.New()
	m.SetNodeState("A", workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"x": 1})})
	snap := m.GetState()
	snap["A"] = workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"x": 999})}

	out, _ := m.GetNodeState("A")
	assert.Equal(t, 1, out["out"].Single()["x"])
}
