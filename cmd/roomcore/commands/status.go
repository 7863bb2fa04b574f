package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomctl/roomcore/internal/config"
)

var statusAddress string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator status",
	Long: `Fetch the coordinator's current core-status document from the HTTP
façade's /v1/status endpoint and print it.

Examples:
  roomcore status
  roomcore status --address http://localhost:8080`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "façade base address (default: from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddress
	if addr == "" {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		if !cfg.Facade.Enabled {
			return fmt.Errorf("façade is disabled in configuration; pass --address or enable facade.enabled")
		}
		addr = "http://localhost" + cfg.Facade.Address
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(addr + "/v1/status")
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s: %s", resp.Status, string(body))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		// Not JSON, or not an object; print the raw body.
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
