package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/workflow"
)

func portNode(name, inType, outType string) *workflow.Node {
	n := echoNode(name)
	if inType != "" {
		n.AddInput("in", inType, workflow.LinkStandard)
	}
	if outType != "" {
		n.AddOutput("out", outType, workflow.LinkStandard)
	}
	return n
}

func TestAddNodeRejectsDuplicateName(t *testing.T) {
	w := workflow.New("wf", "wf")
	require.NoError(t, w.AddNode(portNode("a", "", "number")))
	err := w.AddNode(portNode("a", "", "number"))
	assert.Error(t, err)
}

func TestAddLinkValidatesEndpointsAndDataType(t *testing.T) {
	w := workflow.New("wf", "wf")
	require.NoError(t, w.AddNode(portNode("a", "", "number")))
	require.NoError(t, w.AddNode(portNode("b", "string", "")))

	err := w.AddLink(&workflow.Link{SourceNode: "a", SourceOutput: "out", TargetNode: "b", TargetInput: "in"})
	require.Error(t, err, "number != string must be rejected")

	err = w.AddLink(&workflow.Link{SourceNode: "a", SourceOutput: "missing", TargetNode: "b", TargetInput: "in"})
	require.Error(t, err)

	err = w.AddLink(&workflow.Link{SourceNode: "ghost", SourceOutput: "out", TargetNode: "b", TargetInput: "in"})
	require.Error(t, err)
}

func TestAddLinkSucceedsOnMatchingDataType(t *testing.T) {
	w := workflow.New("wf", "wf")
	require.NoError(t, w.AddNode(portNode("a", "", "number")))
	require.NoError(t, w.AddNode(portNode("b", "number", "")))

	require.NoError(t, w.AddLink(&workflow.Link{SourceNode: "a", SourceOutput: "out", TargetNode: "b", TargetInput: "in"}))
	assert.Len(t, w.LinksBySource("a"), 1)
	assert.Len(t, w.LinksByTarget("b"), 1)
}

func TestResetPreservesTriggerStateButClearsOthers(t *testing.T) {
	w := workflow.New("wf", "wf")

	trig := echoNode("t")
	trig.IsTrigger = true
	trig.AddOutput("output", "number", workflow.LinkStandard)
	require.NoError(t, w.AddNode(trig))
	require.NoError(t, trig.Seed(workflow.NodeOutput{"output": workflow.One(workflow.DataRecord{"v": 1})}))

	regular := portNode("n", "number", "number")
	require.NoError(t, w.AddNode(regular))
	_, err := regular.Run(&workflow.NodeContext{})
	require.NoError(t, err)

	w.Reset()

	assert.Equal(t, workflow.NodeCompleted, trig.State())
	assert.Equal(t, workflow.NodeIdle, regular.State())
}

func TestResetIsIdempotent(t *testing.T) {
	w := workflow.New("wf", "wf")
	n := portNode("n", "number", "number")
	require.NoError(t, w.AddNode(n))
	_, err := n.Run(&workflow.NodeContext{})
	require.NoError(t, err)

	w.Reset()
	w.Reset()
	assert.Equal(t, workflow.NodeIdle, n.State())
}

func TestTryStartAtomicallyGatesRunning(t *testing.T) {
	w := workflow.New("wf", "wf")
	require.NoError(t, w.TryStart())
	assert.Equal(t, workflow.WorkflowRunning, w.State())

	err := w.TryStart()
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindAlreadyRunning))
}

func TestTriggerNodeRejectsNonTrigger(t *testing.T) {
	w := workflow.New("wf", "wf")
	require.NoError(t, w.AddNode(portNode("n", "", "number")))

	_, err := w.TriggerNode("n")
	assert.Error(t, err)

	_, err = w.TriggerNode("ghost")
	assert.Error(t, err)
}
