package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/micromayhem/mayhem/internal/api"
	"github.com/micromayhem/mayhem/internal/cli"
	"github.com/micromayhem/mayhem/internal/db"
	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/game"
	"github.com/micromayhem/mayhem/internal/scheduler"
	"github.com/micromayhem/mayhem/internal/server"
	"github.com/micromayhem/mayhem/internal/telemetry"
	"github.com/micromayhem/mayhem/internal/util"
)

type serverFlags struct {
	port      int
	tickRate  int
	noConsole bool
}

func serverCmd(configDir *string) *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf(banner, version)
			fmt.Println()
			return runServer(*configDir, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "UDP port to listen on (overrides config)")
	cmd.Flags().IntVar(&flags.tickRate, "tick-rate", 0, "simulation ticks per second (overrides config)")
	cmd.Flags().BoolVar(&flags.noConsole, "no-console", false, "disable the interactive console")

	return cmd
}

func runServer(configDir string, flags serverFlags) error {
	cfg, err := loadConfig(configDir, "server")
	if err != nil {
		return err
	}

	network := cfg.GetNetwork()
	if flags.port != 0 {
		network.ListenPort = flags.port
	}
	if flags.tickRate != 0 {
		network.TickRate = flags.tickRate
	}
	cfg.SetNetwork(network)

	if err := checkConfig(cfg); err != nil {
		return err
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
		Subsystem: "server",
		Registry:  registry,
	})

	srvCfg := server.ConfigFrom(cfg.GetNetwork(), cfg.GetMonitor())
	srvCfg.Metrics = metrics
	srvCfg.EventBus = eventBus
	srv := server.New(srvCfg, game.NewArena(game.DefaultMap()))

	// Session history
	var (
		store    *db.SessionStore
		recorder *db.Recorder
		history  api.SessionHistory
		console  cli.History
	)
	if dbCfg := cfg.GetDatabase(); dbCfg.Enabled {
		store, err = db.NewSessionStore(dbCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session history, history disabled")
		} else {
			// Rows left open by a crash can never be closed by a Leave.
			if n, err := store.CloseOpen(events.LeaveShutdown.String(), time.Now()); err != nil {
				log.Warn().Err(err).Msg("failed to close stale sessions")
			} else if n > 0 {
				log.Info().Int64("sessions", n).Msg("closed sessions left open by previous run")
			}
			recorder = db.NewRecorder(store, eventBus)
			recorder.Attach()
			history = store
			console = store
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start game server: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("game server: %w", err)
		}
	}()

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(api.Options{
			Config:   cfg,
			Game:     srv,
			History:  history,
			Gatherer: registry,
			EventBus: eventBus,
			Version:  version,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetAPI().Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "api", apiServer.Start, 5); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

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

	if store != nil {
		sched := scheduler.NewScheduler(cfg.GetDatabase(), store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	if !flags.noConsole {
		term := cli.NewCLI(cfg, srv, console, cancel, os.Stdin, os.Stdout)
		go term.Start(ctx)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
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
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	// Let the recorder see the PlayerLeft events of the shutdown.
	eventBus.Stop()

	if store != nil {
		recorder.Detach()
		if _, err := store.CloseOpen(events.LeaveShutdown.String(), time.Now()); err != nil {
			log.Warn().Err(err).Msg("failed to close open sessions")
		}
		store.Close()
	}

	log.Info().Msg("mayhem server stopped")
	return nil
}
