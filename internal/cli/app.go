package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kylo111/make-it-heavy/internal/config"
	"github.com/Kylo111/make-it-heavy/internal/logger"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
	"github.com/Kylo111/make-it-heavy/pkg/tools"
)

// newGateway builds the provider gateway. Tests swap it for a scripted one.
var newGateway = llm.NewGateway

// app holds the components shared by run and serve.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	orch    *orchestrator.Orchestrator
	events  *orchestrator.EventBus
	tracing bool
}

// loadConfig loads and validates the config named by --config. An explicit
// --log-level overrides the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires logger, tracing, gateway, tools and orchestrator from cfg.
func newApp(ctx context.Context, cfg *config.Config, consoleLogs bool) (*app, error) {
	logCfg := cfg.LoggerConfig()
	logCfg.Console = consoleLogs

	lg, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: lg}

	if cfg.Telemetry.Tracing {
		exporter, err := tracing.WithOTLPExporter(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure)
		if err != nil {
			_ = lg.Close()
			return nil, err
		}
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, exporter); err != nil {
			_ = lg.Close()
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.tracing = true
	}

	gw, err := newGateway(cfg.ProviderConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	gw = llm.Instrument(gw, lg.Component("llm"))

	registry := tools.NewRegistry(tools.Config{
		Logger:         lg.Component("tools"),
		Timeout:        cfg.Tools.Timeout,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
	})
	if err := tools.RegisterBuiltins(registry); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	a.events = orchestrator.NewEventBus()
	a.orch, err = orchestrator.New(cfg.OrchestratorConfig(), gw, tools.Restrict(registry, cfg.ToolPolicy()),
		orchestrator.WithLogger(lg.Zerolog()),
		orchestrator.WithEventBus(a.events),
		orchestrator.WithPricing(cfg.CostPricing()),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	zl := lg.Zerolog()
	zl.Debug().
		Str("provider", gw.Provider()).
		Int("agents", cfg.Orchestrator.ParallelAgents).
		Strs("tools", registry.Names()).
		Msg("Application initialized")

	return a, nil
}

// Close flushes traces and closes the log file.
func (a *app) Close() error {
	var errs []error
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}
	if err := a.log.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
