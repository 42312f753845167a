// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/internal/config"
)

// Version is the dbsentinel version.
var Version = "development"

var rootCmd = &cobra.Command{
	Use:          "dbsentinel",
	Short:        "Schema snapshots, migrations, and health checks for Postgres and SQL Server",
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	config.PersistentFlags(rootCmd)
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(auditCmd())

	return rootCmd.Execute()
}
