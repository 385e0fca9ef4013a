package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "edgetunnel",
	Short: "Reverse HTTP tunnel for locally hosted services",
	Long:  `edgetunnel exposes a local HTTP service to the internet through an outbound-only tunnel connection, without requiring inbound access to the machine running the service.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
