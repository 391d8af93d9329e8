package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/spec-kit/sla-engine/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "slactl",
		Short: "slactl - operator tooling for the SLA engine",
		Long: `slactl validates and imports tracking policies, answers business-time
questions for a calendar and prepares API client credentials.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.PolicyCmd())
	rootCmd.AddCommand(cli.CalendarCmd())
	rootCmd.AddCommand(cli.ClientCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
