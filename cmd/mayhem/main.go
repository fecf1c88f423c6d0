// Mayhem - Micro Mayhem arena server and client.
//
// `mayhem server` runs the authoritative UDP game server together with its
// status API, MQTT telemetry, session history and operator console.
// `mayhem client` joins a server from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/util"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  __  __             _
 |  \/  | __ _ _   _| |__   ___ _ __ ___
 | |\/| |/ _' | | | | '_ \ / _ \ '_ ' _ \
 | |  | | (_| | |_| | | | |  __/ | | | | |
 |_|  |_|\__,_|\__, |_| |_|\___|_| |_| |_|
               |___/  v%s
`

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "mayhem",
		Short: "Micro Mayhem arena server and client",
		Long: `Micro Mayhem is a small real-time arena shooter played over UDP.

Run 'mayhem server' to host a game and 'mayhem client' to join one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.DefaultConfigDir, "directory holding config.json")

	rootCmd.AddCommand(
		serverCmd(&configDir),
		clientCmd(&configDir),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig initializes logging, loads config.json from dir and applies
// its logging section. Validation errors are returned; warnings are logged.
func loadConfig(dir, role string) (*config.Config, error) {
	logCfg := util.DefaultLogConfig()
	logCfg.Role = role
	if err := util.InitLogger(logCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	logging := cfg.GetLogging()
	logCfg = util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
		Role:       role,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msgf("starting mayhem %s", role)

	return cfg, nil
}

// checkConfig logs validation results and fails on errors.
func checkConfig(cfg *config.Config) error {
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}
	return nil
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Returns nil on success, or the last error after all retries fail.
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
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
