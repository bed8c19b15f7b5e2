package persistence

import (
	"context"
	"sync"

	"github.com/flowcore/dagflow/pkg/state"
)

// MemoryHook keeps the latest snapshot per workflow ID in process memory.
// Used by tests and by examples that don't need cross-restart durability.
type MemoryHook struct {
	mu   sync.Mutex
	data map[string]state.Snapshot
}

func NewMemoryHook() *MemoryHook {
	return &MemoryHook{data: make(map[string]state.Snapshot)}
}

func (h *MemoryHook) Persist(ctx context.Context, workflowID string, snap state.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[workflowID] = snap
	return nil
}

func (h *MemoryHook) Recover(ctx context.Context, workflowID string) (state.Snapshot, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.data[workflowID]
	return snap, ok, nil
}
