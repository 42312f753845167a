// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/internal/logging"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func rollbackCmd() *cobra.Command {
	var migrationFile string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Reverse a previously applied migration using its recorded rollback SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			log := logging.New()

			b, err := os.ReadFile(migrationFile)
			if err != nil {
				return err
			}
			var m migration.Migration
			if err := json.Unmarshal(b, &m); err != nil {
				return fmt.Errorf("parsing migration file %q: %w", migrationFile, err)
			}

			db, err := flags.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			auditLog, err := flags.NewAuditLog(ctx, cfg, db)
			if err != nil {
				return err
			}
			defer auditLog.Stop(ctx)

			executor := migration.NewExecutor(db, schema.Engine(cfg.Engine))
			if err := executor.EnsureLedger(ctx); err != nil {
				return err
			}

			log.LogMigrationRollback(&m)
			result, err := executor.Rollback(ctx, &m)

			auditParams := audit.LogParams{
				TenantID:     cfg.TenantID,
				Action:       audit.ActionMigrationRolledBack,
				ResourceType: "migration",
				ResourceID:   m.ID,
				ResourceName: m.Name,
				Success:      err == nil,
			}
			if err != nil {
				auditParams.ErrorMessage = err.Error()
			}
			if _, auditErr := auditLog.Log(ctx, auditParams); auditErr != nil {
				log.Warn("failed to record audit entry", "migration_id", m.ID, "error", auditErr.Error())
			}
			if err != nil {
				return fmt.Errorf("rolling back migration %s: %w", m.ID, err)
			}

			log.LogMigrationRollbackComplete(&m)
			fmt.Printf("rolled back %s (%s): %d steps\n", m.ID, m.Name, result.StepsRolledBack)
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationFile, "migration", "", "Migration file to roll back")
	cmd.MarkFlagRequired("migration")
	return cmd
}
