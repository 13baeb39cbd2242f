package main

import (
	"os"

	"github.com/ndt-connect/marketplace-api/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "costctl",
		Short:        "Offline pricing tool for NDT job estimates",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(cli.EstimateCmd())
	rootCmd.AddCommand(cli.VerifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
