package trigger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/trigger"
	"github.com/flowcore/dagflow/pkg/workflow"
)

type fakeExecutor struct {
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, triggerName string) error {
	f.calls = append(f.calls, triggerName)
	return f.err
}

func newBoundTrigger(t *testing.T) (*trigger.Trigger, *workflow.Workflow, *fakeExecutor) {
	t.Helper()
	tr := trigger.NewManual("t1", "start", "number")
	w := workflow.New("wf1", "wf")
	require.NoError(t, w.AddNode(tr.Node))
	fe := &fakeExecutor{}
	tr.Bind(fe, w)
	return tr, w, fe
}

func TestFireSeedsResultAndExecutes(t *testing.T) {
	tr, _, fe := newBoundTrigger(t)

	err := tr.Fire(context.Background(), workflow.DataRecord{"n": 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"start"}, fe.calls)
	out, ok := tr.Node.GetResult("output")
	require.True(t, ok)
	assert.Equal(t, 1, out.Single()["n"])
	assert.Equal(t, workflow.NodeCompleted, tr.Node.State())
}

func TestFireRejectedWhileWorkflowRunning(t *testing.T) {
	tr, w, fe := newBoundTrigger(t)
	w.TransitionTo(workflow.WorkflowRunning)

	err := tr.Fire(context.Background(), workflow.DataRecord{"n": 1})
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindAlreadyRunning))
	assert.Empty(t, fe.calls)
}

func TestFireUsesDefaultDataWhenNilGiven(t *testing.T) {
	tr, _, _ := newBoundTrigger(t)
	tr.DefaultData = workflow.DataRecord{"n": 42}

	require.NoError(t, tr.Fire(context.Background(), nil))

	out, _ := tr.Node.GetResult("output")
	assert.Equal(t, 42, out.Single()["n"])
}

func TestFireAgainAfterCompletionStopsThenReseeds(t *testing.T) {
	tr, _, _ := newBoundTrigger(t)

	require.NoError(t, tr.Fire(context.Background(), workflow.DataRecord{"n": 1}))
	require.NoError(t, tr.Fire(context.Background(), workflow.DataRecord{"n": 2}))

	out, _ := tr.Node.GetResult("output")
	assert.Equal(t, 2, out.Single()["n"])
}

func TestFireUnboundTriggerFails(t *testing.T) {
	tr := trigger.NewManual("t1", "start", "number")
	err := tr.Fire(context.Background(), workflow.DataRecord{"n": 1})
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindIllegalState))
}
