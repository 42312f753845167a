// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the audit log",
	}
	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain over the tenant's audit log and report whether it is intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

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

			var start *time.Time
			if since > 0 {
				t := time.Now().UTC().Add(-since)
				start = &t
			}

			ok, err := auditLog.VerifyIntegrity(ctx, cfg.TenantID, start, nil)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("FAIL: audit log hash chain for tenant %q is broken\n", cfg.TenantID)
				return &audit.IntegrityViolation{TenantID: cfg.TenantID}
			}
			fmt.Printf("OK: audit log hash chain for tenant %q is intact\n", cfg.TenantID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "How far back to verify")
	return cmd
}
