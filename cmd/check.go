// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/internal/logging"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/orchestrator"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "List and run health checks",
	}
	cmd.AddCommand(checkListCmd())
	cmd.AddCommand(checkRunCmd())
	return cmd
}

func checkListCmd() *cobra.Command {
	var category, framework string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered checks, optionally filtered by category or framework",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := flags.NewCheckRegistry()

			opts := check.ListOptions{
				Category:  check.Category(category),
				Framework: framework,
			}

			defs := registry.List(opts)
			for _, d := range defs {
				fmt.Printf("%-10s %-40s %-12s %s\n", d.ID, d.Name, d.Category, d.DefaultSeverity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category (performance, security, compliance)")
	cmd.Flags().StringVar(&framework, "framework", "", "Filter by compliance framework tag")
	return cmd
}

func checkRunCmd() *cobra.Command {
	var connectionID, framework, category string
	var checkIDs []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run checks on demand against a live connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			log := logging.New()

			db, err := flags.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			registry := flags.NewCheckRegistry()
			orchCfg := orchestrator.DefaultConfig(cfg.TenantID)
			orchCfg.MaxConcurrentChecks = cfg.MaxConcurrentChecks
			orchCfg.CheckTimeout = cfg.CheckTimeout
			orchCfg.AlertWebhookURL = cfg.AlertWebhookURL
			orchCfg.AlertOnCritical = true
			orchCfg.AlertOnFailure = true

			orch := orchestrator.New(orchCfg, registry, staticProvider{db: db})

			sel := orchestrator.Selection{
				CheckIDs:  checkIDs,
				Category:  check.Category(category),
				Framework: framework,
			}

			log.LogCheckExecutionStart(connectionID, orchestrator.TriggerOnDemand)
			exec, err := orch.RunChecks(ctx, connectionID, sel, orchestrator.TriggerOnDemand, "cli", false)
			if err != nil {
				return err
			}
			log.LogCheckExecutionComplete(exec)

			for _, r := range exec.Results {
				log.LogCheckResult(r)
				fmt.Printf("[%s] %-10s %s\n", strings.ToUpper(string(r.Status)), r.CheckID, r.Message)
			}
			fmt.Printf("status=%s passed=%d failed=%d warning=%d\n",
				exec.Status, exec.PassedCount(), exec.FailedCount(), exec.WarningCount())

			auditLog, err := flags.NewAuditLog(ctx, cfg, db)
			if err != nil {
				return err
			}
			defer auditLog.Stop(ctx)
			_, auditErr := auditLog.Log(ctx, audit.LogParams{
				TenantID:     cfg.TenantID,
				Action:       audit.ActionCheckExecuted,
				ResourceType: "connection",
				ResourceID:   connectionID,
				Success:      exec.Status != check.StatusError,
				NewValue:     map[string]any{"execution_id": exec.ID, "status": string(exec.Status)},
			})
			return auditErr
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection-id", "", "Connection to run checks against")
	cmd.Flags().StringVar(&framework, "framework", "", "Run only checks tagged with this compliance framework")
	cmd.Flags().StringVar(&category, "category", "", "Run only checks in this category")
	cmd.Flags().StringSliceVar(&checkIDs, "check-id", nil, "Run only these check IDs (repeatable)")
	cmd.MarkFlagRequired("connection-id")
	return cmd
}

// staticProvider hands back one already-open connection, for CLI
// invocations that operate on a single database.
type staticProvider struct {
	db dbconn.DB
}

func (p staticProvider) Connect(ctx context.Context, connectionID string) (dbconn.DB, dbconn.ConnectionInfo, error) {
	return p.db, dbconn.ConnectionInfo{ID: connectionID, Engine: p.db.Engine()}, nil
}
