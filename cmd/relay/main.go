package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "relay",
		Short:   "Protocol-translating relay in front of the Cloud Code API",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(accountsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
