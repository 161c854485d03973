package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/harborlight/gatelock/internal/audit"
	"github.com/harborlight/gatelock/internal/config"
	"github.com/harborlight/gatelock/internal/emit"
	"github.com/harborlight/gatelock/internal/engine"
	"github.com/harborlight/gatelock/internal/lockdown"
	"github.com/harborlight/gatelock/internal/metrics"
	"github.com/harborlight/gatelock/internal/server"
	"github.com/harborlight/gatelock/internal/store"
)

func runCmd() *cobra.Command {
	var configFile string
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Gatelock admission gate server",
		Long: `Start the gate server that evaluates every request through the
admission pipeline.

With server.upstream configured, allowed requests are forwarded there
and denied requests are answered with the decision (gateway mode).
Without an upstream, every request is answered with its decision
directly (probe mode).

The config file is watched; edits and SIGHUP reload the policy without
dropping connections. SIGUSR1 toggles emergency lockdown.

Examples:
  gatelock run                              # probe mode, default policy
  gatelock run --config gatelock.yaml       # with config file
  gatelock run -c gatelock.yaml --listen :9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			var err error

			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			} else {
				cfg = config.Defaults()
			}

			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}

			monitoring := *cfg.Monitoring.Enabled
			logger, err := audit.New(
				cfg.Logging.Format,
				cfg.Logging.Output,
				cfg.Logging.File,
				monitoring && cfg.Monitoring.LogRequests,
				monitoring && *cfg.Monitoring.LogSecurityEvents,
				*cfg.Monitoring.TraceSamplingRate,
			)
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()

			if monitoring && cfg.Monitoring.SentryDSN != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:     cfg.Monitoring.SentryDSN,
					Release: "gatelock@" + Version,
				}); err != nil {
					return fmt.Errorf("initializing sentry: %w", err)
				}
				defer sentry.Flush(2 * time.Second)
			}

			eng, err := engine.New(cfg)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}

			m := metrics.New()
			ld := lockdown.New(cfg)
			ldAPI := lockdown.NewAPIHandler(ld)

			emitter, err := buildEmitter(cfg)
			if err != nil {
				eng.Close()
				return err
			}
			if emitter != nil {
				defer func() { _ = emitter.Close() }()
			}

			var events *store.Store
			if cfg.Events.StorePath != "" {
				events, err = store.Open(cfg.Events.StorePath,
					store.WithRetention(time.Duration(cfg.Events.RetentionHours)*time.Hour),
					store.WithErrorHandler(func(err error) {
						logger.LogSubsystemError("store", err)
					}),
				)
				if err != nil {
					eng.Close()
					return fmt.Errorf("opening event store: %w", err)
				}
				defer func() { _ = events.Close() }()
			}

			opts := []server.Option{
				server.WithLockdown(ld),
				server.WithLockdownAPI(ldAPI),
			}
			if emitter != nil {
				opts = append(opts, server.WithEmitter(emitter))
			}
			if events != nil {
				opts = append(opts, server.WithEventStore(events))
			}

			srv, err := server.New(cfg, logger, eng, m, opts...)
			if err != nil {
				eng.Close()
				return fmt.Errorf("building server: %w", err)
			}

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			// SIGUSR1 flips emergency lockdown without a restart (no-op
			// on platforms without the signal).
			stopToggle := watchLockdownSignal(ld, logger)
			defer stopToggle()

			if configFile != "" {
				reloader := config.NewReloader(configFile, cfg)
				defer reloader.Close()
				go func() {
					if err := reloader.Start(ctx); err != nil {
						logger.LogSubsystemError("reload", err)
					}
				}()
				go consumeReloads(reloader, srv, emitter, logger)
			}

			fmt.Fprintf(os.Stderr, "Gatelock v%s starting\n", Version)
			fmt.Fprintf(os.Stderr, "  Listen:  %s\n", cfg.Server.Listen)
			if cfg.Server.Upstream != "" {
				fmt.Fprintf(os.Stderr, "  Mode:    gateway -> %s\n", cfg.Server.Upstream)
			} else {
				fmt.Fprintf(os.Stderr, "  Mode:    probe\n")
			}
			fmt.Fprintf(os.Stderr, "  Health:  http://%s/health\n", cfg.Server.Listen)
			if monitoring && *cfg.Monitoring.MetricsEnabled {
				fmt.Fprintf(os.Stderr, "  Metrics: http://%s/metrics\n", cfg.Server.Listen)
			}

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			logger.LogShutdown("signal received")
			fmt.Fprintln(os.Stderr, "\nGatelock stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "listen address, overrides server.listen")

	return cmd
}

// buildEmitter assembles the webhook and syslog sinks from the events
// config. Returns nil when no sink is configured.
func buildEmitter(cfg *config.Config) (*emit.Emitter, error) {
	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return emit.NewEmitter(emit.DefaultInstanceID(), sinks...), nil
}

func buildSinks(cfg *config.Config) ([]emit.Sink, error) {
	var sinks []emit.Sink

	if cfg.Events.WebhookURL != "" {
		opts := []emit.WebhookOption{
			emit.WithMinSeverity(emit.ParseSeverity(cfg.Events.WebhookMinSeverity)),
			emit.WithRateLimit(cfg.Events.WebhookRatePerSecond, cfg.Events.WebhookBurst),
		}
		if cfg.Events.WebhookToken != "" {
			opts = append(opts, emit.WithBearerToken(cfg.Events.WebhookToken))
		}
		sinks = append(sinks, emit.NewWebhookSink(cfg.Events.WebhookURL, opts...))
	}

	if cfg.Events.SyslogAddress != "" {
		sink, err := emit.NewSyslogSinkFromConfig(
			cfg.Events.SyslogAddress,
			cfg.Events.SyslogFacility,
			cfg.Events.SyslogTag,
			cfg.Events.SyslogMinSeverity,
		)
		if err != nil {
			return nil, fmt.Errorf("connecting syslog sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

// consumeReloads applies accepted config reloads: a fresh engine is
// built and swapped atomically; downgrade warnings are logged but never
// block the reload. A config that fails engine construction is rejected
// and the old policy stays active. Event sinks are rebuilt too, so
// webhook and syslog targets can be repointed without a restart; a sink
// that fails to connect keeps the previous sinks in place.
func consumeReloads(r *config.Reloader, srv *server.Server, emitter *emit.Emitter, logger *audit.Logger) {
	for reload := range r.Changes() {
		eng, err := engine.New(reload.Config)
		if err != nil {
			logger.LogConfigReload("rejected", err.Error())
			continue
		}
		srv.Reload(reload.Config, eng)
		if emitter != nil {
			if sinks, err := buildSinks(reload.Config); err != nil {
				logger.LogConfigReload("warning", "events: "+err.Error())
			} else {
				for _, old := range emitter.ReloadSinks(sinks...) {
					_ = old.Close()
				}
			}
		}
		logger.LogConfigReload("applied", "")
		for _, w := range reload.Warnings {
			logger.LogConfigReload("warning", w.Field+": "+w.Message)
		}
	}
}
