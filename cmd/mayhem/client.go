package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/micromayhem/mayhem/internal/client"
	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/game"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

type clientFlags struct {
	server string
	name   string
	setup  bool
}

func clientCmd(configDir *string) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a game server from the terminal",
		Long: `Join a game server from the terminal.

Type inputs such as "left", "right|shoot" or "up" followed by enter; an
empty line releases all keys. "quit" leaves the game.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(*configDir, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.server, "server", "s", "", "server address host:port (overrides config)")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "player name (overrides config)")
	cmd.Flags().BoolVar(&flags.setup, "setup", false, "run the setup wizard")

	return cmd
}

func runClient(configDir string, flags clientFlags) error {
	cfg, err := loadConfig(configDir, "client")
	if err != nil {
		return err
	}

	if flags.setup || (cfg.NeedsSetup() && flags.name == "") {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	}

	clientCfg := cfg.GetClient()
	if flags.server != "" {
		clientCfg.ServerAddress = flags.server
	}
	if flags.name != "" {
		clientCfg.PlayerName = flags.name
	}
	cfg.SetClient(clientCfg)

	if err := checkConfig(cfg); err != nil {
		return err
	}
	if clientCfg.ServerAddress == "" {
		return fmt.Errorf("no server address, pass --server or run --setup")
	}

	addr, err := resolveServer(clientCfg.ServerAddress)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()
	defer eventBus.Stop()
	eventBus.Subscribe(events.EventSessionState, "console", func(ctx context.Context, event events.Event) error {
		if p, ok := event.Payload.(events.SessionStatePayload); ok {
			fmt.Printf("[%s -> %s] id %d\n", p.From, p.To, p.ID)
		}
		return nil
	})

	network := cfg.GetNetwork()
	sessionCfg := client.ConfigFrom(clientCfg, network)
	sessionCfg.EventBus = eventBus
	sessionCfg.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Subsystem: "client"})

	session := client.New(sessionCfg)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to bind local socket: %w", err)
	}
	defer session.Stop()

	if err := session.Connect(addr); err != nil {
		return err
	}
	log.Info().
		Str("server", addr.String()).
		Str("local", session.LocalAddr().String()).
		Str("name", clientCfg.PlayerName).
		Msg("connecting")

	var mask atomic.Uint32
	go readInputs(ctx, cancel, &mask)

	ticker := time.NewTicker(network.TickInterval())
	defer ticker.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			session.Disconnect()
			// Give the writer a moment to flush the Disconnect.
			time.Sleep(50 * time.Millisecond)
			log.Info().Msg("left the game")
			return nil
		case <-ticker.C:
			session.Tick(game.InputMask(mask.Load()))
			if session.State() == client.StateDisconnected {
				err := session.Err()
				if errors.Is(err, client.ErrServerClosed) {
					log.Info().Msg("server closed the session")
					return nil
				}
				return err
			}
		case <-report.C:
			printArena(session)
		}
	}
}

// resolveServer turns host:port into an IPv4 address.
func resolveServer(hostport string) (netip.AddrPort, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", hostport)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid server address %q: %w", hostport, err)
	}
	ap := udpAddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// readInputs updates mask from stdin lines until ctx ends.
func readInputs(ctx context.Context, quit context.CancelFunc, mask *atomic.Uint32) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "quit") {
			quit()
			return
		}
		mask.Store(uint32(game.ParseInput(line)))
	}
}

func printArena(session *client.Session) {
	if session.State() != client.StateSynchronized {
		return
	}
	var sb strings.Builder
	for _, p := range session.Arena().Players() {
		marker := " "
		if p.ID == session.ID() {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s%d %-12s (%6.1f, %6.1f)  ", marker, p.ID, p.Name, p.Pos.X, p.Pos.Y)
	}
	fmt.Fprintf(&sb, "| %d projectiles", len(session.Arena().Projectiles()))
	fmt.Println(sb.String())
}
