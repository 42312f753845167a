// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oapi-codegen/nullable"
	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/pkg/orchestrator"
)

// healthView is status's JSON rendering of a DatabaseHealth. LastAlertAt is
// a nullable.Nullable so the JSON distinguishes "never alerted" (field
// omitted) from an explicit empty value, matching how API responses
// elsewhere in dbsentinel represent optional timestamps.
type healthView struct {
	ConnectionID     string                    `json:"connectionId"`
	OverallStatus    string                    `json:"overallStatus"`
	PerformanceScore float64                   `json:"performanceScore"`
	SecurityScore    float64                   `json:"securityScore"`
	ComplianceScore  float64                   `json:"complianceScore"`
	ChecksPassed     int                       `json:"checksPassed"`
	ChecksFailed     int                       `json:"checksFailed"`
	ChecksWarning    int                       `json:"checksWarning"`
	LastAlertAt      nullable.Nullable[string] `json:"lastAlertAt,omitempty"`
}

func statusCmd() *cobra.Command {
	var connectionID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Run every registered check once and print the resulting database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

			db, err := flags.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			registry := flags.NewCheckRegistry()
			orchCfg := orchestrator.DefaultConfig(cfg.TenantID)
			orchCfg.MaxConcurrentChecks = cfg.MaxConcurrentChecks
			orchCfg.CheckTimeout = cfg.CheckTimeout

			orch := orchestrator.New(orchCfg, registry, staticProvider{db: db})
			if _, err := orch.RunChecks(ctx, connectionID, orchestrator.Selection{}, orchestrator.TriggerOnDemand, "cli", false); err != nil {
				return err
			}

			health, ok := orch.GetHealth(connectionID)
			if !ok {
				return fmt.Errorf("no health recorded for connection %q", connectionID)
			}

			view := healthView{
				ConnectionID:     health.ConnectionID,
				OverallStatus:    string(health.OverallStatus),
				PerformanceScore: health.PerformanceScore,
				SecurityScore:    health.SecurityScore,
				ComplianceScore:  health.ComplianceScore,
				ChecksPassed:     health.ChecksPassed,
				ChecksFailed:     health.ChecksFailed,
				ChecksWarning:    health.ChecksWarning,
			}
			if len(health.CriticalIssues) > 0 {
				view.LastAlertAt = nullable.NewNullableWithValue(health.LastCheck.Format(time.RFC3339))
			}

			b, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection-id", "", "Connection to report health for")
	cmd.MarkFlagRequired("connection-id")
	return cmd
}
