package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PlugHub CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plughub",
		Short: "PlugHub - server-side plugin coordinator",
		Long: `PlugHub coordinates server-resident plugins for a fleet of
connected clients: isolated module loading, version compatibility
enforcement, client-confirmed unload and hot-reload, and message routing.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
