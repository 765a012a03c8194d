package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkoff/inferelay/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

type statusResponse struct {
	Mode        string  `json:"mode"`
	Endpoint    *string `json:"endpoint"`
	CliActive   bool    `json:"cli_active"`
	Connections int64   `json:"connections"`
	Uptime      int64   `json:"uptime"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/status", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		printError("inferelay is not running on port %d", cfg.Server.Port)
		return err
	}
	defer resp.Body.Close()

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	switch st.Mode {
	case "Unavailable":
		printWarning("gateway running, no backend available")
	default:
		printSuccess("gateway running")
	}

	printStatus("mode", "%s", st.Mode)
	endpoint := "none"
	if st.Endpoint != nil {
		endpoint = *st.Endpoint
	}
	printStatus("endpoint", "%s", endpoint)
	printStatus("cli active", "%t", st.CliActive)
	printStatus("connections", "%d", st.Connections)
	printStatus("uptime", "%ds", st.Uptime)
	return nil
}
