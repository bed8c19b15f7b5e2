// Package trigger implements the trigger contract: a node subkind with
// isTrigger=true, one output port, no inputs, that exposes fire(data)
// bound to a single engine via an explicit setter rather than a global
// callback registry, avoiding unscoped mutable globals.
package trigger

import (
	"context"

	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/workflow"
)

// Executor is the subset of *engine.Engine a trigger needs: running the
// workflow from a named trigger node. Modeled as an interface (rather than
// importing pkg/engine directly) so the trigger package stays free of a
// hard dependency on the orchestrator's concrete type.
type Executor interface {
	Execute(ctx context.Context, triggerName string) error
}

// Trigger wraps a *workflow.Node with isTrigger=true and the fire entry
// point. Bound to one engine and one workflow by Bind after construction;
// Fire fails until it is bound.
type Trigger struct {
	Node        *workflow.Node
	DefaultData workflow.DataRecord

	engine   Executor
	workflow *workflow.Workflow
}

// New constructs a trigger node named name, with the single default
// "output" port of the given dataType.
func New(id, name, nodeType, dataType string) *Trigger {
	n := workflow.NewNode(id, name, nodeType, nil)
	n.IsTrigger = true
	n.AddOutput("output", dataType, workflow.LinkStandard)
	return &Trigger{Node: n}
}

// Bind attaches the trigger to the engine and workflow it fires against,
// via one explicit method rather than a setter-heavy callback pattern.
func (t *Trigger) Bind(e Executor, w *workflow.Workflow) {
	t.engine = e
	t.workflow = w
}

// Fire stores data (or the trigger's configured default) as the trigger's
// own completed result, then invokes the bound engine's Execute. Rejects
// firing if the workflow is already Running.
func (t *Trigger) Fire(ctx context.Context, data workflow.DataRecord) error {
	if t.engine == nil || t.workflow == nil {
		return engineerr.New(engineerr.KindIllegalState, t.Node.Name, "trigger is not bound to an engine")
	}
	if t.workflow.State() == workflow.WorkflowRunning {
		return engineerr.AlreadyRunningError(t.workflow.ID)
	}

	if data == nil {
		data = t.DefaultData
	}
	// A trigger that already holds a Completed result from a prior run
	// must return to Idle before it can be re-seeded; Stop() preserves
	// no state worth keeping here since the new fire wholly replaces it.
	t.Node.Stop()
	if err := t.Node.Seed(workflow.NodeOutput{"output": workflow.One(data)}); err != nil {
		return err
	}

	return t.engine.Execute(ctx, t.Node.Name)
}
