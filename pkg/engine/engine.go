// Package engine implements the execution engine: the orchestrator that
// drives a workflow from a fired trigger to a terminal Completed/Failed
// state, walking topological layers, collecting per-port inputs with
// async wait, dispatching nodes in parallel or sequentially, applying
// retry, and driving the persistence hook.
//
// The goroutine that calls Execute walks the layers. Worker goroutines
// spawned for parallel dispatch each run executeNodeIfReady, which itself
// writes the state manager, the executionState map and the pending-promise
// map; those writes are serialized by the state manager's lock and e.mu,
// not by routing them through a single writer goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowcore/dagflow/internal/config"
	"github.com/flowcore/dagflow/internal/logger"
	"github.com/flowcore/dagflow/pkg/dag"
	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/persistence"
	"github.com/flowcore/dagflow/pkg/retry"
	"github.com/flowcore/dagflow/pkg/secret"
	"github.com/flowcore/dagflow/pkg/state"
	"github.com/flowcore/dagflow/pkg/workflow"
)

const (
	// sourceGracePeriod is how long input collection waits, for a source
	// still Idle, before a pending promise is expected to appear.
	sourceGracePeriod = 10 * time.Millisecond
	// sourcePollInterval/sourcePollMaxIterations bound the polling
	// fallback used once the grace period has elapsed.
	sourcePollInterval      = 50 * time.Millisecond
	sourcePollMaxIterations = 100
)

// Engine orchestrates one workflow. Its state manager and pending-promise
// map are owned for the engine's lifetime; the workflow itself may be
// driven by at most one concurrent Execute call (enforced by
// workflow.TryStart's atomic check-and-set).
type Engine struct {
	workflow   *workflow.Workflow
	hook       persistence.Hook
	resolver   secret.Resolver
	logger     *slog.Logger
	conditions *conditionEvaluator

	stateMgr *state.Manager

	// secretWalkMaxDepth, defaultMaxParallel, and defaultNodeTimeout come
	// from EngineConfig (via WithConfig) and fall back to
	// secret.DefaultMaxDepth / unlimited / no deadline when the engine is
	// constructed with no config option.
	secretWalkMaxDepth int
	defaultMaxParallel int
	defaultNodeTimeout time.Duration

	mu              sync.Mutex
	executionState  map[string]workflow.NodeOutput
	pendingPromises map[string]chan struct{}
	executed        map[string]bool
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine)

// WithConfig applies the engine-relevant limits from cfg: the node
// concurrency cap a workflow falls back to when it leaves
// Settings.MaxParallelExecutions at 0, the secret-resolution recursion
// depth, and the deadline applied to every dispatched node's context when
// positive (nodes carry no timeout setting of their own).
func WithConfig(cfg config.EngineConfig) EngineOption {
	return func(e *Engine) {
		e.defaultMaxParallel = cfg.DefaultMaxParallelExecutions
		e.secretWalkMaxDepth = cfg.SecretWalkMaxDepth
		e.defaultNodeTimeout = cfg.DefaultNodeTimeout
	}
}

// WithLogger routes engine logging through l instead of the package-default
// slog logger tagged with the workflow ID.
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l.Slog() }
}

// NewEngine constructs an engine bound to w. hook and resolver are both
// optional.
func NewEngine(w *workflow.Workflow, hook persistence.Hook, resolver secret.Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		workflow:           w,
		hook:               hook,
		resolver:           resolver,
		logger:             slog.Default().With("workflow", w.ID),
		conditions:         newConditionEvaluator(),
		stateMgr:           state.New(),
		secretWalkMaxDepth: secret.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkflowState returns the workflow's current lifecycle state.
func (e *Engine) WorkflowState() workflow.WorkflowState { return e.workflow.State() }

// StateManager exposes the engine's state manager for inspection.
func (e *Engine) StateManager() *state.Manager { return e.stateMgr }

// GetNodeState returns a node's last recorded output for this execution.
func (e *Engine) GetNodeState(name string) (workflow.NodeOutput, bool) {
	return e.stateMgr.GetNodeState(name)
}

// GetNodeMetadata returns a node's recorded timing/status metadata.
func (e *Engine) GetNodeMetadata(name string) (workflow.NodeExecutionMetadata, bool) {
	return e.stateMgr.GetNodeMetadata(name)
}

// Execute runs the workflow from triggerName to a terminal state.
// Implements trigger.Executor, so a *Engine binds directly to a
// *trigger.Trigger.
func (e *Engine) Execute(ctx context.Context, triggerName string) error {
	trig, err := e.workflow.TriggerNode(triggerName)
	if err != nil {
		return err
	}
	if err := e.workflow.TryStart(); err != nil {
		return err
	}

	e.mu.Lock()
	e.executionState = make(map[string]workflow.NodeOutput)
	e.pendingPromises = make(map[string]chan struct{})
	e.executed = map[string]bool{triggerName: true}
	e.mu.Unlock()

	e.workflow.Reset()
	e.stateMgr.Clear()

	if e.hook != nil {
		if snap, ok, recoverErr := e.hook.Recover(ctx, e.workflow.ID); recoverErr != nil {
			e.logger.Warn("persistence recover failed", "error", recoverErr)
		} else if ok {
			e.stateMgr.Import(snap)
		}
	}

	if trig.State() == workflow.NodeCompleted {
		out := trig.GetAllResults()
		e.stateMgr.RecordNodeStart(triggerName)
		e.stateMgr.SetNodeState(triggerName, out)
		e.stateMgr.RecordNodeEnd(triggerName, workflow.NodeCompleted)
		e.mu.Lock()
		e.executionState[triggerName] = out
		e.mu.Unlock()
	}

	graph := dag.Build(e.workflow)
	layers, err := dag.Layers(graph)
	if err != nil {
		e.workflow.TransitionTo(workflow.WorkflowFailed)
		return err
	}

	triggerLayer := 0
	for i, layer := range layers {
		for _, name := range layer {
			if name == triggerName {
				triggerLayer = i
			}
		}
	}

	settings := e.workflow.Settings
	maxParallel := settings.MaxParallelExecutions
	if maxParallel == 0 {
		maxParallel = e.defaultMaxParallel
	}
	for _, layer := range layers[triggerLayer:] {
		if ctx.Err() != nil {
			e.workflow.TransitionTo(workflow.WorkflowFailed)
			return engineerr.CancelledError(triggerName)
		}

		pending := make([]string, 0, len(layer))
		for _, name := range layer {
			e.mu.Lock()
			already := e.executed[name]
			e.mu.Unlock()
			if !already {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			continue
		}

		// Kahn's algorithm (pkg/dag) already guarantees every node within
		// one layer is pairwise independent — an edge between two same-
		// layer nodes would have forced them into different layers. The
		// independent/residual partition therefore always yields
		// independent=pending, residual=empty here; the two-phase
		// dispatch below is kept only for structural symmetry with a
		// layer that did have a residual set.
		independent, residual := pending, []string(nil)

		if settings.EnableParallelExecution && len(independent) >= 2 {
			if err := e.dispatchParallel(ctx, independent, maxParallel); err != nil {
				e.workflow.TransitionTo(workflow.WorkflowFailed)
				return err
			}
		} else if err := e.dispatchSequential(ctx, independent); err != nil {
			e.workflow.TransitionTo(workflow.WorkflowFailed)
			return err
		}

		if err := e.dispatchSequential(ctx, residual); err != nil {
			e.workflow.TransitionTo(workflow.WorkflowFailed)
			return err
		}
	}

	e.workflow.TransitionTo(workflow.WorkflowCompleted)
	return nil
}

func (e *Engine) dispatchSequential(ctx context.Context, names []string) error {
	for _, name := range names {
		if ctx.Err() != nil {
			return engineerr.CancelledError(name)
		}
		if err := e.executeNodeIfReady(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) dispatchParallel(ctx context.Context, names []string, maxParallel int) error {
	batchSize := maxParallel
	if batchSize <= 0 {
		batchSize = len(names)
	}
	for start := 0; start < len(names); start += batchSize {
		end := start + batchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]

		var wg sync.WaitGroup
		errs := make([]error, len(batch))
		for i, name := range batch {
			if ctx.Err() != nil {
				errs[i] = engineerr.CancelledError(name)
				continue
			}
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				errs[i] = e.executeNodeIfReady(ctx, name)
			}(i, name)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// executeNodeIfReady runs a single dispatched node: disabled short-circuit,
// input collection, retry-or-once dispatch, state recording, persistence.
func (e *Engine) executeNodeIfReady(ctx context.Context, name string) error {
	node, ok := e.workflow.GetNode(name)
	if !ok {
		return fmt.Errorf("engine: dispatched node %q does not exist", name)
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.pendingPromises[name] = done
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pendingPromises, name)
		e.executed[name] = true
		e.mu.Unlock()
		close(done)
	}()

	if node.Disabled {
		e.stateMgr.RecordNodeStart(name)
		_ = node.Seed(workflow.NodeOutput{})
		e.stateMgr.RecordNodeEnd(name, workflow.NodeCompleted)
		e.stateMgr.SetNodeState(name, workflow.NodeOutput{})
		e.mu.Lock()
		e.executionState[name] = workflow.NodeOutput{}
		e.mu.Unlock()
		return nil
	}

	input, stateView, err := e.collectInputs(ctx, node)
	if err != nil {
		return err
	}
	if len(node.Inputs()) > 0 && len(input) == 0 {
		e.logger.Warn("node has declared input ports but none were collected", "node", name)
	}

	e.stateMgr.RecordNodeStart(name)

	nodeConfig := node.Config()
	if e.resolver != nil {
		resolved, resolveErr := secret.Walk(name, nodeConfig, e.resolver, e.secretWalkMaxDepth)
		if resolveErr != nil {
			e.stateMgr.RecordNodeEnd(name, workflow.NodeFailed)
			e.persist(ctx)
			return resolveErr
		}
		nodeConfig = resolved
	}

	nodeCtx := ctx
	if e.defaultNodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.defaultNodeTimeout)
		defer cancel()
	}

	nctx := &workflow.NodeContext{Context: nodeCtx, Input: input, State: stateView, Config: nodeConfig}

	var out workflow.NodeOutput
	if mock, hasMock := e.workflow.MockData[name]; hasMock {
		err = node.Seed(mock)
		out = mock
	} else if node.RetryOnFail && node.MaxRetries > 0 {
		out, err = e.runWithRetry(ctx, node, nctx)
	} else {
		out, err = node.Run(nctx)
	}

	if err != nil {
		if node.ContinueOnFail {
			out = workflow.NodeOutput{}
			e.stateMgr.RecordNodeEnd(name, workflow.NodeCompleted)
		} else {
			e.stateMgr.RecordNodeEnd(name, workflow.NodeFailed)
			e.persist(ctx)
			return err
		}
	} else {
		e.stateMgr.RecordNodeEnd(name, workflow.NodeCompleted)
	}

	e.stateMgr.SetNodeState(name, out)
	e.mu.Lock()
	e.executionState[name] = out
	e.mu.Unlock()

	e.persist(ctx)
	return nil
}

// runWithRetry retries a node's Process call using stop() (not reset())
// between attempts so a node's own internal counters survive across
// retries, with cancellable backoff between attempts.
func (e *Engine) runWithRetry(ctx context.Context, node *workflow.Node, nctx *workflow.NodeContext) (workflow.NodeOutput, error) {
	strategy := retry.FromRetryDelay(node.RetryDelay)
	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			node.Stop()
		}
		out, err := node.Run(nctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retry.ShouldRetry(attempt, node.MaxRetries) {
			return nil, lastErr
		}
		if !retry.Sleep(strategy.Delay(attempt), ctx.Done()) {
			return nil, engineerr.CancelledError(node.Name)
		}
	}
}

// persist fires the persistence hook's Persist asynchronously so a slow
// hook never blocks the engine's critical path. Failures are logged,
// never fatal.
func (e *Engine) persist(ctx context.Context) {
	if e.hook == nil {
		return
	}
	snap := e.stateMgr.Export()
	workflowID := e.workflow.ID
	log := e.logger
	hook := e.hook
	go func() {
		if err := hook.Persist(context.Background(), workflowID, snap); err != nil {
			log.Warn("persistence hook failed", "error", engineerr.PersistenceError("persist", err))
		}
	}()
}

// collectInputs awaits every distinct upstream source, rejects on a
// Failed source, then assembles each input port by concatenating every
// contributing link's records, applying each link's optional condition.
func (e *Engine) collectInputs(ctx context.Context, node *workflow.Node) (workflow.NodeInput, map[string]workflow.NodeOutput, error) {
	links := e.workflow.LinksByTarget(node.Name)

	sources := make(map[string]bool)
	for _, l := range links {
		sources[l.SourceNode] = true
	}
	for src := range sources {
		if err := e.awaitSource(ctx, node.Name, src); err != nil {
			return nil, nil, err
		}
	}

	input := make(workflow.NodeInput)
	for _, l := range links {
		srcNode, ok := e.workflow.GetNode(l.SourceNode)
		if !ok {
			continue
		}
		result, ok := srcNode.GetResult(l.SourceOutput)
		if !ok || len(result.Records) == 0 {
			continue
		}
		if l.Condition != "" {
			pass, condErr := e.conditions.Evaluate(l.Condition, srcNode.GetAllResults())
			if condErr != nil {
				return nil, nil, engineerr.Wrap(engineerr.KindProcess, node.Name, condErr)
			}
			if !pass {
				continue
			}
		}
		existing := input[l.TargetInput]
		existing.Records = append(existing.Records, result.Records...)
		input[l.TargetInput] = existing
	}

	return input, e.mergedStateView(), nil
}

// awaitSource blocks until source has finished (see waitForSourceTerminal),
// then converts a Failed source into a SourceFailedError attributed to
// downstream.
func (e *Engine) awaitSource(ctx context.Context, downstream, source string) error {
	node, ok := e.workflow.GetNode(source)
	if !ok {
		return fmt.Errorf("engine: input source %q does not exist", source)
	}
	if err := e.waitForSourceTerminal(ctx, source, node); err != nil {
		return err
	}
	if node.State() == workflow.NodeFailed {
		return engineerr.SourceFailedError(downstream, source)
	}
	return nil
}

// waitForSourceTerminal prefers awaiting the engine's own pending-promise
// for source (registered when the source is dispatched) over polling. A
// source already counted as executed (including the trigger this run
// started from, even one never fired) is not waited on. A source still
// Idle with no promise registered gets one grace period before falling
// back to bounded polling; a source still Idle/Running after that is a
// race-condition bug.
func (e *Engine) waitForSourceTerminal(ctx context.Context, source string, node *workflow.Node) error {
	if done, pending := e.pendingPromise(source); pending {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return engineerr.CancelledError(source)
		}
	}

	e.mu.Lock()
	executed := e.executed[source]
	e.mu.Unlock()
	if executed {
		return nil
	}

	if node.State() == workflow.NodeIdle {
		deadline := time.Now().Add(sourceGracePeriod)
		for time.Now().Before(deadline) {
			if done, pending := e.pendingPromise(source); pending {
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return engineerr.CancelledError(source)
				}
			}
			if node.State() != workflow.NodeIdle {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	for i := 0; node.State() == workflow.NodeIdle || node.State() == workflow.NodeRunning; i++ {
		if ctx.Err() != nil {
			return engineerr.CancelledError(source)
		}
		if i >= sourcePollMaxIterations {
			return fmt.Errorf("engine: source %q stuck in state %s with no pending promise registered", source, node.State())
		}
		time.Sleep(sourcePollInterval)
	}
	return nil
}

func (e *Engine) pendingPromise(name string) (chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	done, ok := e.pendingPromises[name]
	return done, ok
}

// mergedStateView merges three layers into one view: the state manager's
// own snapshot, falling back to the engine's local executionState map,
// falling back further to a direct query of any Completed node's results
// not yet reflected in either — a safety net for nodes whose write to the
// state manager races with a sibling's input collection.
func (e *Engine) mergedStateView() map[string]workflow.NodeOutput {
	view := e.stateMgr.GetState()

	e.mu.Lock()
	for name, out := range e.executionState {
		if _, ok := view[name]; !ok {
			view[name] = out
		}
	}
	e.mu.Unlock()

	for _, n := range e.workflow.Nodes() {
		if _, ok := view[n.Name]; ok {
			continue
		}
		if n.State() == workflow.NodeCompleted {
			view[n.Name] = n.GetAllResults()
		}
	}
	return view
}
