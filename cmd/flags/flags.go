// SPDX-License-Identifier: Apache-2.0

// Package flags builds the shared runtime dependencies (a dbconn.DB, an
// audit.Log, a check.Registry) every dbsentinel subcommand needs from the
// bound internal/config.Config.
package flags

import (
	"context"
	"fmt"

	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
	"github.com/dbsentinel/dbsentinel/pkg/audit/pgstore"
	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// Connect opens the target database named by cfg.DatabaseURL/cfg.Engine.
func Connect(cfg config.Config) (dbconn.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("--database-url is required")
	}
	engine := schema.Engine(cfg.Engine)
	if engine != schema.EnginePostgres && engine != schema.EngineSQLServer {
		return nil, fmt.Errorf("unsupported --engine %q: must be postgres or sqlserver", cfg.Engine)
	}
	rdb, err := dbconn.Open(engine, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return rdb, nil
}

// NewAuditLog builds an audit.Log for cfg. When the target engine is
// Postgres, entries persist to the same database's audit_log table,
// created on first use; for SQL Server targets (no audit.Store
// implementation ships for that engine yet) entries are hashed and kept
// in memory only.
func NewAuditLog(ctx context.Context, cfg config.Config, db dbconn.DB) (*audit.Log, error) {
	auditCfg := audit.DefaultConfig()
	auditCfg.Enabled = cfg.AuditEnabled
	auditCfg.BufferSize = cfg.AuditBufferSize
	auditCfg.FlushInterval = cfg.AuditFlushInterval

	var store audit.Store
	if rdb, ok := db.(*dbconn.RDB); ok && rdb.Engine() == schema.EnginePostgres {
		pg := pgstore.New(rdb.DB)
		if err := pg.Init(ctx); err != nil {
			return nil, fmt.Errorf("initializing audit log: %w", err)
		}
		store = pg
	}

	log := audit.New(auditCfg, store)
	log.Start(ctx)
	return log, nil
}

// NewCheckRegistry returns a Registry seeded with dbsentinel's built-in
// checks.
func NewCheckRegistry() *check.Registry {
	return check.NewRegistry()
}
