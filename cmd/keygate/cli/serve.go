package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/server"
)

const banner = `
 _  _________   _______    _  _____ _____
| |/ / ____\ \ / / ____|  / \|_   _| ____|
| ' /|  _|  \ V / |  _   / _ \ | | |  _|
| . \| |___  | || |_| | / ___ \| | | |___
|_|\_\_____| |_| \____|/_/   \_\_| |_____|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that exposes the management API, monitoring endpoints and the credential-brokered proxy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return runServe(cmd.Context(), serveOptions{
				host:    host,
				port:    port,
				dev:     dev,
				hostSet: flags.Changed("host"),
				portSet: flags.Changed("port"),
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development mode (debug logging, fallback secrets)")

	return cmd
}

type serveOptions struct {
	host             string
	port             int
	dev              bool
	hostSet, portSet bool
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, warnings, err := loadConfig(true, opts.dev)
	if err != nil {
		return err
	}
	if opts.hostSet {
		cfg.Server.Host = opts.host
	}
	if opts.portSet {
		cfg.Server.Port = opts.port
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg.Logging, opts.dev, os.Stderr)
	for _, w := range warnings {
		logger.Warn(w)
	}
	if cfg.File != "" {
		logger.Info("config loaded", "file", cfg.File)
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("store initialized", "dialect", a.store.Dialect())

	if n, err := a.store.CountAccounts(ctx); err != nil {
		logger.Warn("failed to count accounts", "error", err)
	} else if n == 0 {
		logger.Warn("no accounts found - run: keygate account create --superuser --email <email>")
	}

	srv := server.New(server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		CORSOrigins:        cfg.Server.CORSOrigins,
		LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
		Version:            versionString(),
	}, server.Deps{
		Accounts:    a.accounts,
		Credentials: a.creds,
		Ledger:      a.ledger,
		Limiter:     a.limiter,
		Connector:   a.connector,
		Monitor:     a.monitor,
		Metrics:     a.metrics,
		Logger:      logger,
	})

	host := cfg.Server.Host
	if host == "0.0.0.0" {
		host = "localhost"
	}
	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/health\n", host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", host, cfg.Server.Port)
	fmt.Printf("→ Services:   %v\n", a.registry.Names())
	fmt.Println()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
