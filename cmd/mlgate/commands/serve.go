package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mlgate/mlgate/pkg/audit"
	"github.com/mlgate/mlgate/pkg/config"
	"github.com/mlgate/mlgate/pkg/policy"
	"github.com/mlgate/mlgate/pkg/server"
	"github.com/mlgate/mlgate/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		configPath  string
		listenAddr  string
		metricsAddr string
		dbPath      string
		watch       bool
		traceExport string
		traceTarget string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy decision server",
		Long: `Run the HTTP decision server.

Endpoints:
  POST /v1/decide/plan       evaluate a Terraform plan
  POST /v1/decide/admission  evaluate a Kubernetes AdmissionReview
  GET  /v1/policies          list the active policy set
  GET  /v1/decisions         list recent audit records
  GET  /metrics              Prometheus metrics
  GET  /healthz              health probe

Settings come from an optional YAML config file; explicit flags
override it. With --watch the policy paths are observed for changes; a
validated reload swaps the registry atomically while in-flight
evaluations finish against the snapshot they started with. A reload
that fails validation keeps the previous policy set in effect.`,
		Example: `  # Serve the built-in policies with an audit log
  mlgate serve --db mlgate.db

  # Serve custom policies with hot reload and a standalone metrics port
  mlgate serve --policies ./policies --watch --metrics-listen :9090

  # Serve from a config file, exporting traces to an OTLP collector
  mlgate serve --config /etc/mlgate/mlgate.yaml --trace-exporter otlp`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()
			ctx := cmd.Context()

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Explicit flags win over the config file.
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = listenAddr
			}
			if flags.Changed("metrics-listen") {
				cfg.Server.MetricsListen = metricsAddr
			}
			if flags.Changed("db") {
				cfg.Audit.Path = dbPath
			}
			if flags.Changed("watch") {
				cfg.Policy.Watch = watch
			}
			if flags.Changed("trace-exporter") {
				cfg.Tracing.Enabled = traceExport != ""
				cfg.Tracing.Exporter = traceExport
			}
			if flags.Changed("trace-endpoint") {
				cfg.Tracing.Endpoint = traceTarget
			}
			if len(policyPaths) > 0 {
				cfg.Policy.Paths = policyPaths
			}
			if noBuiltins {
				cfg.Policy.DisableBuiltins = true
			}

			telCfg := telemetry.DefaultConfig()
			telCfg.Logging.Level = cfg.Logging.Level
			telCfg.Logging.Format = cfg.Logging.Format
			if cfg.Server.MetricsListen != "" {
				telCfg.Metrics.ListenAddress = cfg.Server.MetricsListen
			}
			telCfg.Tracing.Enabled = cfg.Tracing.Enabled
			if cfg.Tracing.Exporter != "" {
				telCfg.Tracing.Exporter = cfg.Tracing.Exporter
			}
			telCfg.Tracing.Endpoint = cfg.Tracing.Endpoint
			if verbose {
				telCfg.Logging.Level = "debug"
			}

			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("initialize telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			loader := policy.NewLoader(tel.Logger.Zerolog())
			reg, err := loader.LoadRegistry(cfg.Policy.Paths, !cfg.Policy.DisableBuiltins)
			if err != nil {
				return err
			}
			engine := policy.NewEngine(reg, tel.Logger.Zerolog())
			tel.Metrics.SetPoliciesLoaded(reg.Len())

			var store *audit.Store
			if cfg.Audit.Path != "" {
				store, err = audit.NewStore(audit.Config{Path: cfg.Audit.Path})
				if err != nil {
					return err
				}
				if err := store.Init(ctx); err != nil {
					return fmt.Errorf("initialize audit store: %w", err)
				}
				defer store.Close()
			}

			if cfg.Policy.Watch && len(cfg.Policy.Paths) > 0 {
				err := loader.Watch(ctx, cfg.Policy.Paths, !cfg.Policy.DisableBuiltins, func(next *policy.Registry) {
					engine.Swap(next)
					tel.Metrics.SetPoliciesLoaded(next.Len())
					tel.Metrics.RecordReload(true)
					if err := tel.Events.PublishRegistryReloaded(next.Len()); err != nil {
						log.Warn().Err(err).Msg("Failed to publish reload event")
					}
				})
				if err != nil {
					return fmt.Errorf("start policy watcher: %w", err)
				}
				defer loader.StopWatching()
			}

			if cfg.Server.MetricsListen != "" {
				go func() {
					if err := tel.Metrics.StartMetricsServer(); err != nil {
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
			}

			srvCfg := server.DefaultConfig()
			srvCfg.ListenAddress = cfg.Server.Listen
			srv, err := server.NewServer(srvCfg, engine, tel, store)
			if err != nil {
				return err
			}

			log.Info().
				Str("listen", cfg.Server.Listen).
				Int("policies", reg.Len()).
				Bool("watch", cfg.Policy.Watch).
				Bool("audit", store != nil).
				Msg("Starting decision server")

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8443", "decision server listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "standalone Prometheus listen address (empty disables)")
	cmd.Flags().StringVar(&dbPath, "db", "", "audit database path (empty disables persistence)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload policies when files change")
	cmd.Flags().StringVar(&traceExport, "trace-exporter", "", "trace exporter: otlp or stdout (empty disables)")
	cmd.Flags().StringVar(&traceTarget, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	return cmd
}
