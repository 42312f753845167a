// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/internal/logging"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func migrateCmd() *cobra.Command {
	var dir string
	var dryRun bool
	var appliedBy string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply every outstanding migration file in a directory, in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			log := logging.New()

			migrations, err := loadMigrations(dir)
			if err != nil {
				return err
			}
			plan, err := migration.CreatePlan(migrations)
			if err != nil {
				return err
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

			for _, m := range plan.Migrations {
				applied, err := executor.IsApplied(ctx, m.ID)
				if err != nil {
					return err
				}
				if applied {
					continue
				}

				if err := executor.Validate(m); err != nil {
					return fmt.Errorf("validating migration %s: %w", m.ID, err)
				}

				if dryRun {
					fmt.Printf("would apply %s (%s): %d steps\n", m.ID, m.Name, len(m.Steps))
					continue
				}

				log.LogMigrationStart(m)
				result, err := executor.Execute(ctx, m, appliedBy)
				if _, auditErr := auditLog.Log(ctx, buildMigrationAppliedParams(cfg.TenantID, m, err)); auditErr != nil {
					log.Warn("failed to record audit entry", "migration_id", m.ID, "error", auditErr.Error())
				}
				if err != nil {
					return fmt.Errorf("applying migration %s: %w", m.ID, err)
				}
				log.LogMigrationComplete(m)
				fmt.Printf("applied %s (%s): %d/%d steps\n", m.ID, m.Name, result.StepsExecuted, result.StepsTotal)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory containing *.migration.json or *.migration.yaml files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print the plan without executing it")
	cmd.Flags().StringVar(&appliedBy, "applied-by", "", "Identity recorded as having applied the migration")
	return cmd
}

func buildMigrationAppliedParams(tenantID string, m *migration.Migration, execErr error) audit.LogParams {
	p := audit.LogParams{
		TenantID:     tenantID,
		Action:       audit.ActionMigrationApplied,
		ResourceType: "migration",
		ResourceID:   m.ID,
		ResourceName: m.Name,
		Success:      execErr == nil,
		NewValue:     map[string]any{"version": m.Version, "checksum": m.Checksum},
	}
	if execErr != nil {
		p.ErrorMessage = execErr.Error()
	}
	return p
}

func loadMigrations(dir string) ([]*migration.Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []*migration.Migration
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		m, err := migration.Parse(b, migration.FormatFromExtension(ext))
		if err != nil {
			continue
		}
		if m.ID == "" || len(m.Steps) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
