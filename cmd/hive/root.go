package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent task graph runner",
	Long: `Hive runs a dependency graph of tasks across a team of autonomous agents.

Tasks come from a YAML graph file. A supervisor spawns teammate agents that
claim ready tasks, work on them through the Anthropic API, and coordinate
with each other over mailboxes with request/response correlation. When a
task fails, everything that depended on it is cancelled with the cause
recorded; independent work keeps going.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
