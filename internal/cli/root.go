// Package cli holds the orchestrator's command tree.
//
// Import Path: procurement.io/orchestrator/internal/cli
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Procurement orchestration service",
	Long: `Coordinates purchase requests, RFQs, vendor selection, purchase orders and
multi-level approvals over a single event bus.

Configuration is read from config.yaml and environment variables
(DATABASE_URL, SERVER_PORT, ...).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
