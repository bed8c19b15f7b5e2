package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/flowcore/dagflow/internal/config"
	"github.com/flowcore/dagflow/pkg/state"
)

// snapshotRow is the bun model backing SQLHook, one row per workflow ID,
// upserted on every Persist.
type snapshotRow struct {
	bun.BaseModel `bun:"table:engine_execution_snapshots"`

	WorkflowID string    `bun:"workflow_id,pk"`
	StateJSON  []byte    `bun:"state_json"`
	MetaJSON   []byte    `bun:"metadata_json"`
	UpdatedAt  time.Time `bun:"updated_at"`
}

// SQLHook persists snapshots to a Postgres table via bun, for durability
// across process restarts.
type SQLHook struct {
	db bun.IDB
}

func NewSQLHook(db bun.IDB) *SQLHook {
	return &SQLHook{db: db}
}

// NewSQLHookFromConfig opens a pgdriver connection pool against
// cfg.DatabaseURL, sized by cfg.MaxConnections/MinConnections/
// MaxConnLifetime, and wraps it as a bun.DB for NewSQLHook. Pings before
// returning, so a bad DSN fails at construction rather than on first
// Persist.
func NewSQLHookFromConfig(ctx context.Context, cfg config.PersistenceConfig) (*SQLHook, error) {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DatabaseURL),
		pgdriver.WithTimeout(5*time.Second),
	)
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxConnections)
	sqldb.SetMaxIdleConns(cfg.MinConnections)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("persistence: connect to postgres: %w", err)
	}

	return NewSQLHook(db), nil
}

// CreateTable creates the backing table if it does not exist. Callers
// typically run this once at startup alongside the rest of their schema
// migrations.
func (h *SQLHook) CreateTable(ctx context.Context) error {
	_, err := h.db.NewCreateTable().Model((*snapshotRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (h *SQLHook) Persist(ctx context.Context, workflowID string, snap state.Snapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(snap.Metadata)
	if err != nil {
		return err
	}

	row := &snapshotRow{
		WorkflowID: workflowID,
		StateJSON:  stateJSON,
		MetaJSON:   metaJSON,
		UpdatedAt:  time.Now(),
	}
	_, err = h.db.NewInsert().
		Model(row).
		On("CONFLICT (workflow_id) DO UPDATE").
		Set("state_json = EXCLUDED.state_json").
		Set("metadata_json = EXCLUDED.metadata_json").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (h *SQLHook) Recover(ctx context.Context, workflowID string) (state.Snapshot, bool, error) {
	row := new(snapshotRow)
	err := h.db.NewSelect().Model(row).Where("workflow_id = ?", workflowID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Snapshot{}, false, nil
	}
	if err != nil {
		return state.Snapshot{}, false, err
	}

	var snap state.Snapshot
	if err := json.Unmarshal(row.StateJSON, &snap.State); err != nil {
		return state.Snapshot{}, false, err
	}
	if err := json.Unmarshal(row.MetaJSON, &snap.Metadata); err != nil {
		return state.Snapshot{}, false, err
	}
	return snap, true, nil
}
