package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/monitor"
)

func newStatusCmd() *cobra.Command {
	var (
		addr     string
		upstream bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a keygate server is healthy",
		Long: `Query the /health endpoint of a running keygate server and print its report.

With --upstream, each registered third-party service is also checked directly
with a HEAD request to its base URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false, false)
			if err != nil {
				return err
			}
			if addr == "" {
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				addr = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
			}
			if err := runStatus(addr); err != nil {
				return err
			}
			if upstream {
				return checkUpstreams(cmd.Context(), cfg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default: from config, http://127.0.0.1:<port>)")
	cmd.Flags().BoolVar(&upstream, "upstream", false, "Also check each upstream service base URL")

	return cmd
}

func runStatus(addr string) error {
	healthURL := addr + "/health"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("server not responding at %s: %w", healthURL, err)
	}
	defer resp.Body.Close()

	var report monitor.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decode health report: %w", err)
	}

	fmt.Printf("Server:   %s (%s)\n", addr, report.Status)
	fmt.Printf("Database: %s", report.Components.Database.Status)
	if report.Components.Database.Message != "" {
		fmt.Printf(" - %s", report.Components.Database.Message)
	}
	fmt.Println()
	for name, state := range report.Components.Services {
		fmt.Printf("  %-14s %s\n", name, state)
	}

	if report.Status != monitor.StatusHealthy {
		return fmt.Errorf("server is %s", report.Status)
	}
	return nil
}

// checkUpstreams reports reachability of every registered service. An
// unreachable upstream is printed, not returned.
func checkUpstreams(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	registry := connector.NewRegistry(connector.DefaultServices()...)
	if err := cfg.ApplyServices(registry); err != nil {
		return err
	}
	conn := connector.New(registry, cfg.Upstream.Timeout)

	fmt.Println("Upstreams:")
	for _, name := range registry.Names() {
		if err := conn.Ping(ctx, name); err != nil {
			fmt.Printf("  %-14s unreachable (%v)\n", name, err)
			continue
		}
		fmt.Printf("  %-14s reachable\n", name)
	}
	return nil
}
