// Package sqlite implements the persistent conversation-history backend:
// message log, summary log, union search and session registry in a single
// SQLite database. It uses modernc.org/sqlite (pure Go, no CGO) in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/internal/memory"
)

// ModuleID is the configuration key of this module.
const ModuleID = "memory.sqlite"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ memory.Backend    = (*Backend)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// timeLayout is fixed-width UTC so that lexical order on the TEXT column is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Backend implements memory.Backend over a SQLite database.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Close releases the database handle.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

// Ping checks that the database answers and carries the expected schema.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	v, err := readSchemaVersion(ctx, b.db)
	if err != nil {
		return unavailable("schema", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("%w: sqlite: schema version %d, want %d", memory.ErrStoreUnavailable, v, schemaVersion)
	}
	return nil
}

// Checkpoint folds the write-ahead log into the main database file.
func (b *Backend) Checkpoint(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return unavailable("wal checkpoint", err)
	}
	return nil
}

// unavailable wraps a driver error so callers can match ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: sqlite: %s: %w", memory.ErrStoreUnavailable, op, err)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

// rollback aborts tx unless it was committed.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Default().Warn("sqlite: rollback failed", "error", err)
	}
}

// Module exposes the SQLite backend through the module lifecycle and
// registers it as the "memory.backend" service.
type Module struct {
	config  Config
	logger  *slog.Logger
	backend *Backend
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	backend, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.backend = backend

	ctx.RegisterService(memory.ServiceName, backend)

	m.logger.Info("sqlite memory module provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	return m.backend.Ping(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.logger != nil {
		m.logger.Info("sqlite memory module stopping")
	}
	if m.backend != nil {
		return m.backend.Close()
	}
	return nil
}

// Backend returns the provisioned backend.
func (m *Module) Backend() *Backend {
	return m.backend
}
