package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/config"
	"github.com/harun/chainscout/internal/logger"
	"github.com/harun/chainscout/internal/observability"
	"github.com/harun/chainscout/internal/tracing"
	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
)

const (
	shutdownTimeout = 5 * time.Second

	// annotationEndpointOnly marks commands that need no agent credential.
	annotationEndpointOnly = "chainscout/endpoint-only"
)

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	metrics *observability.Server
}

// loadConfig reads configuration with the persistent flags applied on top.
func (o *rootOptions) loadConfig(cmd *cobra.Command, extra ...config.Option) (*config.Config, error) {
	var opts []config.Option
	if o.envFile != "" {
		opts = append(opts, config.WithEnvFile(o.envFile))
	}
	if cmd.Flags().Changed("log-level") {
		opts = append(opts, config.WithOverride("logging.level", o.logLevel))
	}
	opts = append(opts, extra...)

	cfg, err := config.Load(o.configFile, opts...)
	if err != nil {
		return nil, &session.ConfigurationError{Invalid: []string{err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		var cfgErr *session.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Missing = missingSettings(cmd, cfg)
		}
		return nil, err
	}
	return cfg, nil
}

// missingSettings lists the required settings cmd lacks, so that a format
// error does not hide them.
func missingSettings(cmd *cobra.Command, cfg *config.Config) []string {
	s := cfg.Session()
	if _, ok := cmd.Annotations[annotationEndpointOnly]; ok {
		if strings.TrimSpace(s.EndpointURL) == "" {
			return []string{"endpoint_url"}
		}
		return nil
	}
	var cfgErr *session.ConfigurationError
	if errors.As(s.Validate(), &cfgErr) {
		return cfgErr.Missing
	}
	return nil
}

// start loads configuration and brings up logging, tracing and the optional
// metrics endpoint. The caller must call close.
func (o *rootOptions) start(cmd *cobra.Command, extra ...config.Option) (*app, error) {
	cfg, err := o.loadConfig(cmd, extra...)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, &session.ConfigurationError{Invalid: []string{err.Error()}}
	}

	a := &app{cfg: cfg, log: log, logger: log.Zerolog()}

	if err := tracing.InitOpenTelemetry("chainscout", version); err != nil {
		a.logger.Warn().Err(err).Msg("Tracing disabled")
	}

	if cfg.Metrics.Addr != "" {
		observability.EnsureRegistered()
		srv, err := observability.StartServer(cfg.Metrics.Addr, log.Component("metrics"))
		if err != nil {
			a.logger.Warn().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server not started")
		} else {
			a.metrics = srv
		}
	}

	a.logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	_ = a.log.Close()
}

// session builds a session that reports progress to observer and the log.
func (a *app) session(observer runner.Observer) *session.Session {
	observers := runner.MultiObserver{runner.LogObserver{Logger: a.log.Component("runner")}}
	if observer != nil {
		observers = append(observers, observer)
	}
	return session.New(session.Deps{
		OpenTools: openTools,
		NewAgent:  newAgent,
		Observer:  observers,
		Sleep:     sleep,
		Logger:    a.logger,
	})
}
