// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/dbsentinel/dbsentinel/internal/config"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func planCmd() *cobra.Command {
	var diffFile, name, version, outFile, format string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a reversible migration from a schema diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if !semver.IsValid(version) {
				return fmt.Errorf("--version %q is not a valid semantic version (expected vMAJOR.MINOR.PATCH)", version)
			}

			diff, err := readDiffFile(diffFile)
			if err != nil {
				return err
			}

			if len(diff.Differences) == 0 {
				fmt.Println("no structural differences; nothing to plan")
				return nil
			}

			m := migration.Generate(uuid.NewString(), name, version, schema.Engine(cfg.Engine), diff)

			breaking := migration.BreakingChanges(diff)
			for _, b := range breaking {
				fmt.Printf("breaking change [%s] %s %s: %s\n", b.Severity, b.ObjectType, b.ObjectName, b.Description)
				if b.Remediation != "" {
					fmt.Printf("  remediation: %s\n", b.Remediation)
				}
			}

			migFormat := migration.FormatFromExtension(format)
			if outFile == "" {
				outFile = fmt.Sprintf("%s.migration.%s", m.ID, migFormat.Extension())
			} else {
				migFormat = migration.FormatFromExtension(filepath.Ext(outFile))
			}

			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := migration.NewWriter(f, migFormat).Write(m); err != nil {
				return fmt.Errorf("writing migration file %q: %w", outFile, err)
			}
			fmt.Println(outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&diffFile, "diff", "", "Diff file produced by 'dbsentinel diff'")
	cmd.Flags().StringVar(&name, "name", "", "Migration name")
	cmd.Flags().StringVar(&version, "version", "", "Semantic version this migration advances the schema to (vMAJOR.MINOR.PATCH)")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: <migration-id>.migration.<format>)")
	cmd.Flags().StringVar(&format, "format", "json", "Migration file format when --out is not set: json or yaml")
	cmd.MarkFlagRequired("diff")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("version")
	return cmd
}
