// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/cmd/flags"
	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/internal/logging"
	"github.com/dbsentinel/dbsentinel/pkg/audit"
	"github.com/dbsentinel/dbsentinel/pkg/extractor"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func snapshotCmd() *cobra.Command {
	var connectionID, label, outFile string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Extract the live schema and write a timestamped snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			log := logging.New()

			db, err := flags.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ext, err := extractor.For(schema.Engine(cfg.Engine))
			if err != nil {
				return err
			}

			dbSchema, err := ext.Extract(ctx, db, connectionID)
			if err != nil {
				return fmt.Errorf("extracting schema: %w", err)
			}

			snap := schema.NewSnapshot(uuid.NewString(), connectionID, time.Now().UTC().Format(time.RFC3339), dbSchema)
			snap.Label = label

			if outFile == "" {
				outFile = fmt.Sprintf("%s.snapshot.json", snap.ID)
			}
			if err := writeJSONFile(outFile, snap); err != nil {
				return err
			}

			log.LogSnapshotTaken(connectionID, snap.ID, dbSchema.TableCount())
			fmt.Println(outFile)

			auditLog, err := flags.NewAuditLog(ctx, cfg, db)
			if err != nil {
				return err
			}
			defer auditLog.Stop(ctx)
			_, err = auditLog.Log(ctx, audit.LogParams{
				TenantID:     cfg.TenantID,
				Action:       audit.ActionSnapshotCreated,
				ResourceType: "connection",
				ResourceID:   connectionID,
				Success:      true,
				NewValue:     map[string]any{"snapshot_id": snap.ID, "content_hash": snap.ContentHash},
			})
			return err
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection-id", "", "Logical connection identifier the snapshot is taken against")
	cmd.Flags().StringVar(&label, "label", "", "Optional human-readable label for the snapshot")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: <snapshot-id>.snapshot.json)")
	cmd.MarkFlagRequired("connection-id")
	return cmd
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readSnapshotFile(path string) (*schema.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap schema.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot file %q: %w", path, err)
	}
	return &snap, nil
}
