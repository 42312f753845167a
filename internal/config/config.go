// SPDX-License-Identifier: Apache-2.0

// Package config binds dbsentinel's CLI flags and DBSENTINEL_-prefixed
// environment variables to a single Config value via viper.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	viper.SetEnvPrefix("DBSENTINEL")
	viper.AutomaticEnv()
}

// Config holds the settings shared by every dbsentinel subcommand.
type Config struct {
	DatabaseURL string
	Engine      string
	TenantID    string

	MaxConcurrentChecks int
	CheckTimeout        time.Duration
	AlertWebhookURL     string

	AuditEnabled       bool
	AuditBufferSize    int
	AuditFlushInterval time.Duration
}

// PersistentFlags registers the flags shared by every subcommand that talks
// to a database and binds them into viper under DBSENTINEL_-prefixed keys.
func PersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("database-url", "", "Connection string for the target database")
	cmd.PersistentFlags().String("engine", "postgres", "Database engine: postgres or sqlserver")
	cmd.PersistentFlags().String("tenant-id", "default", "Tenant identifier checks and audit entries are scoped to")
	cmd.PersistentFlags().Int("max-concurrent-checks", 4, "Maximum checks run concurrently per execution")
	cmd.PersistentFlags().Duration("check-timeout", 120*time.Second, "Per-check execution timeout")
	cmd.PersistentFlags().String("alert-webhook-url", "", "URL to POST a JSON alert to when an execution is critical or failed")
	cmd.PersistentFlags().Bool("audit-enabled", true, "Enable the audit log")
	cmd.PersistentFlags().Int("audit-buffer-size", 100, "Number of audit entries buffered before a flush")
	cmd.PersistentFlags().Duration("audit-flush-interval", 5*time.Second, "Maximum time an audit entry waits in the buffer")

	viper.BindPFlag("DATABASE_URL", cmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("ENGINE", cmd.PersistentFlags().Lookup("engine"))
	viper.BindPFlag("TENANT_ID", cmd.PersistentFlags().Lookup("tenant-id"))
	viper.BindPFlag("MAX_CONCURRENT_CHECKS", cmd.PersistentFlags().Lookup("max-concurrent-checks"))
	viper.BindPFlag("CHECK_TIMEOUT", cmd.PersistentFlags().Lookup("check-timeout"))
	viper.BindPFlag("ALERT_WEBHOOK_URL", cmd.PersistentFlags().Lookup("alert-webhook-url"))
	viper.BindPFlag("AUDIT_ENABLED", cmd.PersistentFlags().Lookup("audit-enabled"))
	viper.BindPFlag("AUDIT_BUFFER_SIZE", cmd.PersistentFlags().Lookup("audit-buffer-size"))
	viper.BindPFlag("AUDIT_FLUSH_INTERVAL", cmd.PersistentFlags().Lookup("audit-flush-interval"))
}

// Load reads the bound flags/environment back into a Config.
func Load() Config {
	return Config{
		DatabaseURL:         viper.GetString("DATABASE_URL"),
		Engine:              viper.GetString("ENGINE"),
		TenantID:            viper.GetString("TENANT_ID"),
		MaxConcurrentChecks: viper.GetInt("MAX_CONCURRENT_CHECKS"),
		CheckTimeout:        viper.GetDuration("CHECK_TIMEOUT"),
		AlertWebhookURL:     viper.GetString("ALERT_WEBHOOK_URL"),
		AuditEnabled:        viper.GetBool("AUDIT_ENABLED"),
		AuditBufferSize:     viper.GetInt("AUDIT_BUFFER_SIZE"),
		AuditFlushInterval:  viper.GetDuration("AUDIT_FLUSH_INTERVAL"),
	}
}
