// Package cli implements the rediscompare command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "rediscompare",
	Short:   "Load harness for comparing Redis locking strategies",
	Version: version,
	Long: `Rediscompare drives a balance-withdrawal service with concurrent
virtual user sessions and reports per-endpoint latency and failure
statistics, so the service's different Redis concurrency-control
strategies (optimistic watch, Lua script, token lock, custom lock,
distributed lock) can be compared under identical load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(serveCmd)
}
