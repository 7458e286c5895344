package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kylo111/make-it-heavy/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve orchestrations over HTTP",
	Long: `Start the HTTP server.

Endpoints:
  POST /v1/orchestrate   {"query": "..."} -> orchestration result
  GET  /v1/events        websocket stream of orchestration events
                         (?request_id= narrows it to one request)
  GET  /v1/clients       connected event subscribers
  GET  /metrics          Prometheus metrics
  GET  /healthz          liveness

The server stops on SIGINT or SIGTERM after in-flight orchestrations finish
or server.shutdown_timeout passes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.NewServer(server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		AuthToken:         cfg.Server.AuthToken,
		Orchestrator:      a.orch,
		Events:            a.events,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MaxConcurrent:     cfg.Server.MaxConcurrent,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            a.log.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}
