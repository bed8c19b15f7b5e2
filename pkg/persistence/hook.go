// Package persistence implements the pluggable persistence hook contract:
// persist after every node completion, recover once at the start of an
// execution. Both operations must be non-blocking relative to the
// engine's critical path; a slow hook slows but never crashes execution.
package persistence

import (
	"context"

	"github.com/flowcore/dagflow/pkg/state"
)

// Hook is a consumer-supplied pair of operations to survive process
// restarts.
type Hook interface {
	// Persist stores a by-value snapshot for workflowID. Called after
	// every node completion; failures are logged by the engine, never
	// fatal to the execution.
	Persist(ctx context.Context, workflowID string, snap state.Snapshot) error
	// Recover returns the most recent snapshot for workflowID, if any.
	// Called once at the start of Execute.
	Recover(ctx context.Context, workflowID string) (state.Snapshot, bool, error)
}
