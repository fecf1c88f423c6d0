// Package cli implements the operator console of a running server: live
// status, player listing and kicks, read from stdin while the server ticks.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/db"
	"github.com/micromayhem/mayhem/internal/server"
)

// Game is the part of the server the console reads and commands.
type Game interface {
	Snapshot() server.Snapshot
	Kick(id uint8) error
	Monitor() *server.TickMonitor
}

// History is the persisted session log. It may be nil.
type History interface {
	Recent(limit int) ([]db.Session, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg     *config.Config
	game    Game
	history History
	quit    func()

	in  io.Reader
	out io.Writer
	now func() time.Time
}

// NewCLI creates a console reading in and writing out. quit is called on
// the quit command.
func NewCLI(cfg *config.Config, game Game, history History, quit func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:     cfg,
		game:    game,
		history: history,
		quit:    quit,
		in:      in,
		out:     out,
		now:     time.Now,
	}
}

// Start runs the console loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nMayhem console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input closed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one console line.
func (c *CLI) Execute(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "stats":
		c.printStats()
	case "ticks":
		c.printTicks()
	case "sessions":
		return c.printSessions(args)
	case "kick":
		return c.cmdKick(args)
	case "set":
		return c.cmdSet(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		if c.quit != nil {
			c.quit()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status              Show server status
  players             List registered remotes
  stats               Show dropped datagrams by reason
  ticks               Show long tick statistics
  sessions [n]        Show the last n sessions
  kick <id>           Disconnect a player
  set <key> <value>   Update a network setting (applies on restart)
  quit                Shut the server down
  help                Show this help message`)
}

func (c *CLI) printStatus() {
	snap := c.game.Snapshot()

	fmt.Fprintf(c.out, "\n  Address:      %s\n", snap.Address)
	fmt.Fprintf(c.out, "  Tick:         %d @ %d Hz\n", snap.Tick, snap.TickRate)
	fmt.Fprintf(c.out, "  Uptime:       %s\n", snap.Uptime(c.now()).Truncate(time.Second))
	fmt.Fprintf(c.out, "  Players:      %d/%d (%d registered)\n", snap.Active(), snap.Capacity, len(snap.Players))
	fmt.Fprintf(c.out, "  Projectiles:  %d\n", snap.Projectiles)
	fmt.Fprintf(c.out, "  Last tick:    %s\n", snap.LastTick)
	fmt.Fprintf(c.out, "  Rejected:     %d\n", snap.Rejected)
	fmt.Fprintf(c.out, "  Unexpected:   %d\n", snap.Unexpected)
	fmt.Fprintf(c.out, "  Drops:        %d\n\n", snap.Drops.Total())
}

func (c *CLI) printPlayers() {
	players := c.game.Snapshot().Players
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Name", "Address", "State", "RTT", "Recv", "Sent", "Joined"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		state := "pending"
		if p.Active {
			state = "active"
		}
		tw.Append([]string{
			strconv.Itoa(int(p.ID)),
			p.Name,
			p.Address,
			state,
			p.RTT.Round(time.Millisecond).String(),
			strconv.FormatUint(p.Received, 10),
			strconv.FormatUint(p.Sent, 10),
			p.JoinedAt.Format(time.TimeOnly),
		})
	}
	tw.Render()
}

func (c *CLI) printStats() {
	snap := c.game.Snapshot()
	d := snap.Drops

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Reason", "Count"})
	tw.SetBorder(true)
	rows := []struct {
		name  string
		count uint64
	}{
		{"rate limited", d.RateLimited},
		{"receive queue full", d.QueueFull},
		{"send queue full", d.SendQueueFull},
		{"oversize", d.Oversize},
		{"write error", d.WriteErrors},
		{"bad frame", d.Frame},
		{"protocol mismatch", d.Mismatch},
		{"duplicate", d.Duplicate},
		{"too old", d.TooOld},
		{"decode", d.Decode},
		{"handler panic", d.HandlerPanic},
		{"server full", snap.Rejected},
		{"unexpected message", snap.Unexpected},
	}
	for _, r := range rows {
		tw.Append([]string{r.name, strconv.FormatUint(r.count, 10)})
	}
	tw.SetFooter([]string{"total", strconv.FormatUint(d.Total()+snap.Rejected+snap.Unexpected, 10)})
	tw.Render()
}

func (c *CLI) printTicks() {
	stats := c.game.Monitor().Stats()
	fmt.Fprintf(c.out, "\n  Threshold:    %s\n", stats.Threshold)
	fmt.Fprintf(c.out, "  Long ticks:   %d (%d this hour)\n", stats.TotalEvents, stats.EventsLastHour)
	fmt.Fprintf(c.out, "  Average:      %s\n", stats.AvgDuration)
	fmt.Fprintf(c.out, "  Longest:      %s\n", stats.MaxDuration)
	for _, alert := range c.game.Monitor().CheckThresholds() {
		fmt.Fprintf(c.out, "  ALERT %s: %d long ticks in the last hour\n", alert.Level, alert.Events)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printSessions(args []string) error {
	if c.history == nil {
		return fmt.Errorf("session history is disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	sessions, err := c.history.Recent(limit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Player", "Name", "Address", "Joined", "Left", "Reason"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, s := range sessions {
		left := "-"
		if !s.Open() {
			left = s.LeftAt.Format(time.DateTime)
		}
		tw.Append([]string{
			strconv.Itoa(int(s.PlayerID)),
			s.Name,
			s.Address,
			s.JoinedAt.Format(time.DateTime),
			left,
			s.Reason,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid player id: %s", args[0])
	}
	if err := c.game.Kick(uint8(id)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicking player %d\n", id)
	return nil
}

func (c *CLI) cmdSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")
	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	}

	previous := c.cfg.GetNetwork()
	if err := c.cfg.UpdateNetworkField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetNetwork(previous)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %s (applies on restart)\n", key, raw)
	return nil
}
