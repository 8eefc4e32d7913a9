package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	adminAddr  string
	jsonOutput bool
}

// pluginRow mirrors the descriptor fields the admin API returns.
type pluginRow struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Version    string `json:"version"`
}

type listResponse struct {
	OK   bool        `json:"ok"`
	Data []pluginRow `json:"data"`
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show loaded plugins of a running coordinator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.adminAddr, "admin-addr", "127.0.0.1:9200", "administrative HTTP address")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus queries the admin API and prints the loaded plugin list.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/plugins", cfg.adminAddr))
	if err != nil {
		return fmt.Errorf("coordinator not reachable at %s: %w", cfg.adminAddr, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only response body

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode admin response: %w", err)
	}

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(list.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tNAME\tVERSION")
	for _, p := range list.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Identifier, p.Name, p.Version)
	}
	return w.Flush()
}
