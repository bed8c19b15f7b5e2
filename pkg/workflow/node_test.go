package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/workflow"
)

func echoNode(name string) *workflow.Node {
	return workflow.NewNode(name, name, "echo", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{}, nil
	}))
}

func TestLegalStateTransitions(t *testing.T) {
	n := echoNode("n")

	require.NoError(t, n.SetState(workflow.NodeRunning))
	require.NoError(t, n.SetState(workflow.NodeCompleted))
	require.NoError(t, n.SetState(workflow.NodeIdle))

	require.NoError(t, n.SetState(workflow.NodeRunning))
	require.NoError(t, n.SetState(workflow.NodeFailed))
	require.NoError(t, n.SetState(workflow.NodeIdle))
}

func TestIllegalStateTransitionsRejected(t *testing.T) {
	cases := []struct {
		from, to workflow.NodeState
	}{
		{workflow.NodeIdle, workflow.NodeCompleted},
		{workflow.NodeIdle, workflow.NodeFailed},
		{workflow.NodeRunning, workflow.NodeIdle},
		{workflow.NodeCompleted, workflow.NodeRunning},
		{workflow.NodeCompleted, workflow.NodeFailed},
		{workflow.NodeFailed, workflow.NodeRunning},
		{workflow.NodeFailed, workflow.NodeCompleted},
	}
	for _, tc := range cases {
		n := echoNode("n")
		// drive to `from`
		switch tc.from {
		case workflow.NodeRunning:
			require.NoError(t, n.SetState(workflow.NodeRunning))
		case workflow.NodeCompleted:
			require.NoError(t, n.SetState(workflow.NodeRunning))
			require.NoError(t, n.SetState(workflow.NodeCompleted))
		case workflow.NodeFailed:
			require.NoError(t, n.SetState(workflow.NodeRunning))
			require.NoError(t, n.SetState(workflow.NodeFailed))
		}

		err := n.SetState(tc.to)
		require.Error(t, err, "%s -> %s should be illegal", tc.from, tc.to)
		assert.True(t, engineerr.IsKind(err, engineerr.KindIllegalState))
	}
}

func TestRunTransitionsAndStoresResult(t *testing.T) {
	n := workflow.NewNode("n", "n", "echo", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"v": 1})}, nil
	}))

	out, err := n.Run(&workflow.NodeContext{})
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeCompleted, n.State())
	assert.Equal(t, out, n.GetAllResults())
}

func TestRunOnNonIdleNodeFails(t *testing.T) {
	n := echoNode("n")
	require.NoError(t, n.SetState(workflow.NodeRunning))

	_, err := n.Run(&workflow.NodeContext{})
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindIllegalState))
}

func TestRunFailurePath(t *testing.T) {
	n := workflow.NewNode("n", "n", "failing", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return nil, assert.AnError
	}))

	_, err := n.Run(&workflow.NodeContext{})
	require.Error(t, err)
	assert.Equal(t, workflow.NodeFailed, n.State())
	assert.Equal(t, assert.AnError, n.LastError())
}

func TestStopReturnsTerminalToIdlePreservingResult(t *testing.T) {
	n := workflow.NewNode("n", "n", "echo", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return workflow.NodeOutput{"out": workflow.One(workflow.DataRecord{"v": 1})}, nil
	}))
	_, err := n.Run(&workflow.NodeContext{})
	require.NoError(t, err)

	n.Stop()
	assert.Equal(t, workflow.NodeIdle, n.State())
	out, ok := n.GetResult("out")
	require.True(t, ok)
	assert.Equal(t, 1, out.Single()["v"])
}

func TestStopIsNoopWhenIdleOrRunning(t *testing.T) {
	n := echoNode("n")
	n.Stop()
	assert.Equal(t, workflow.NodeIdle, n.State())

	require.NoError(t, n.SetState(workflow.NodeRunning))
	n.Stop()
	assert.Equal(t, workflow.NodeRunning, n.State())
}

func TestResetClearsResultsAndError(t *testing.T) {
	n := workflow.NewNode("n", "n", "failing", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		return nil, assert.AnError
	}))
	_, _ = n.Run(&workflow.NodeContext{})
	require.NoError(t, n.Setup(map[string]interface{}{"k": "v"}))

	n.Reset()
	assert.Equal(t, workflow.NodeIdle, n.State())
	assert.Nil(t, n.LastError())
	assert.Equal(t, "v", n.Config()["k"], "config must survive reset")
}

func TestSeedCompletesNodeBypassingProcess(t *testing.T) {
	called := false
	n := workflow.NewNode("n", "n", "trigger", workflow.ProcessorFunc(func(ctx *workflow.NodeContext) (workflow.NodeOutput, error) {
		called = true
		return workflow.NodeOutput{}, nil
	}))

	require.NoError(t, n.Seed(workflow.NodeOutput{"output": workflow.One(workflow.DataRecord{"v": 1})}))
	assert.False(t, called)
	assert.Equal(t, workflow.NodeCompleted, n.State())
	out, ok := n.GetResult("output")
	require.True(t, ok)
	assert.Equal(t, 1, out.Single()["v"])
}

func TestSetupValidatesAgainstSchemaAndMerges(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": { "url": {"type": "string"}, "count": {"type": "integer"} },
		"required": ["url"],
		"additionalProperties": false
	}`)
	n, err := echoNode("n").WithSchema(schema)
	require.NoError(t, err)

	require.NoError(t, n.Setup(map[string]interface{}{"url": "http://x"}))
	require.NoError(t, n.Setup(map[string]interface{}{"count": 3}))
	assert.Equal(t, "http://x", n.Config()["url"])
	assert.Equal(t, float64(3), n.Config()["count"])
}

func TestSetupRejectsMissingRequired(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": { "url": {"type": "string"} },
		"required": ["url"]
	}`)
	n, err := echoNode("n").WithSchema(schema)
	require.NoError(t, err)

	err = n.Setup(map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindConfiguration))
}

func TestSetupRejectsAdditionalProperties(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": { "url": {"type": "string"} },
		"additionalProperties": false
	}`)
	n, err := echoNode("n").WithSchema(schema)
	require.NoError(t, err)

	err = n.Setup(map[string]interface{}{"url": "http://x", "extra": 1})
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindConfiguration))
}

func TestAddDuplicatePortPanics(t *testing.T) {
	n := echoNode("n")
	n.AddInput("a", "number", workflow.LinkStandard)
	assert.Panics(t, func() { n.AddInput("a", "number", workflow.LinkStandard) })
}
