package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statecast-project/statecast/internal/api"
	"github.com/statecast-project/statecast/internal/cli"
	"github.com/statecast-project/statecast/internal/config"
	"github.com/statecast-project/statecast/internal/db"
	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/health"
	"github.com/statecast-project/statecast/internal/network"
	"github.com/statecast-project/statecast/internal/scheduler"
	"github.com/statecast-project/statecast/internal/telemetry"
	"github.com/statecast-project/statecast/internal/util"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	configDir string
	port      int
	noConsole bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [www_dir]",
		Short: "Run the relay and serve the web client",
		Long: `Run the WebSocket relay and serve the emulator web client.

www_dir overrides the configured web client directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var wwwDir string
			if len(args) == 1 {
				wwwDir = args[0]
			}
			return runServe(opts, wwwDir)
		},
	}

	cmd.Flags().StringVar(&opts.configDir, "config", config.DefaultConfigDir, "configuration directory")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (overrides the configuration)")
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "disable the interactive console")

	return cmd
}

func runServe(opts serveOptions, wwwDir string) error {
	fmt.Printf(banner, version)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting statecast")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyOverrides(wwwDir, opts.port)

	app := cfg.GetApplicationData()
	if err := util.InitLogger(util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		if !cfg.IsFirstRun() || opts.noConsole {
			return fmt.Errorf("configuration validation failed, fix the errors above or run 'statecast init'")
		}
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
		app = cfg.GetApplicationData()
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	server := cfg.GetServer()
	sessions := network.NewSessionServer(network.Options{
		ReadLimit:      server.ReadLimitBytes,
		WriteTimeout:   server.WriteTimeoutDuration(),
		PingInterval:   server.PingIntervalDuration(),
		AllowedOrigins: server.AllowedOrigins,
	}, eventBus)

	metrics := telemetry.NewMetrics(sessions.Count)
	metrics.RegisterHandlers(eventBus)

	// Interfaces stay nil when history is disabled
	var (
		store   *db.SessionStore
		history api.HistorySource
		pruner  scheduler.HistoryStore
	)
	if app.Database.Enabled {
		store, err = db.NewSessionStore(app.Database.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", app.Database.Path).Msg("session history disabled")
		} else {
			store.RegisterHandlers(eventBus)
			history = store
			pruner = store
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, sessions)

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(app.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	sched := scheduler.NewScheduler(cfg, pruner)

	apiServer := api.NewServer(cfg, eventBus, api.Deps{
		Sessions: sessions,
		Health:   healthMgr,
		History:  history,
		Metrics:  metrics.Handler(),
		Version:  version,
	})

	// The console's quit command asks for shutdown through the bus
	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "http server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if !opts.noConsole {
		console := cli.NewCLI(eventBus, sessions, healthMgr, os.Stdin, os.Stdout)
		// Not tracked: a read on stdin cannot be interrupted
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Close sessions first so their summaries reach the store
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sessions did not close in time")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	// Drains pending handlers, including session_closed writes
	eventBus.Stop()

	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}

	log.Info().Msg("statecast stopped")
	return runErr
}

// startWithRetry retries startFn on failure, which is usually a port still
// held by a previous process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
