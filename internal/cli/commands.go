// Package cli implements the interactive operator console of a wormnet
// server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/config"
	"github.com/wormnet-project/wormnet/internal/db"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/server"
)

// GameServer runs closures on the game server goroutine.
type GameServer interface {
	Exec(ctx context.Context, fn func(*server.Server)) error
}

// SessionLister reads the session journal.
type SessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]db.Session, error)
}

// CLI reads operator commands line by line.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     GameServer
	sessions SessionLister
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console reading from in and writing to out. sessions
// may be nil when no database is configured.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, game GameServer, sessions SessionLister, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		sessions: sessions,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is done or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nwormnet console ready. Type 'help' for available commands.")

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
		fmt.Fprint(c.out, "wormnet> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(ctx)
	case "conn", "c":
		return c.printConnection(ctx, args)
	case "mute":
		return c.cmdMute(ctx, args, true)
	case "unmute":
		return c.cmdMute(ctx, args, false)
	case "kick":
		return c.cmdKick(ctx, args)
	case "sessions":
		return c.printSessions(ctx, args)
	case "setconfig":
		return c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down wormnet...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
Commands:
  status               Show every active connection
  conn <slot>          Show one connection in detail
  mute <slot>          Stop relaying chat from a client
  unmute <slot>        Relay chat from a client again
  kick <slot>          Drop a client
  sessions [n]         Show the n most recent sessions
  setconfig <k> <v>    Update a server setting (applies on restart)
  quit                 Shut down the server
  help                 Show this help message

`)
}

// printStatus renders the connection table.
func (c *CLI) printStatus(ctx context.Context) error {
	var infos []server.ConnectionInfo
	if err := c.game.Exec(ctx, func(s *server.Server) { infos = s.Snapshot() }); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No active connections")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Slot", "Address", "State", "Version", "Channel", "Ping", "Worms", "Muted"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range infos {
		addr := info.Address
		if info.Local {
			addr = "local"
		}
		names := make([]string, 0, len(info.Worms))
		for _, w := range info.Worms {
			names = append(names, w.Name)
		}
		tw.Append([]string{
			strconv.Itoa(info.Slot),
			addr,
			info.State,
			dash(info.Version),
			dash(info.Channel),
			fmt.Sprintf("%dms", info.Ping),
			dash(strings.Join(names, ", ")),
			strconv.FormatBool(info.Muted),
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printConnection(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}

	var info server.ConnectionInfo
	err = c.exec(ctx, func(s *server.Server) error {
		conn, err := s.Slot(slot)
		if err != nil {
			return err
		}
		info = s.Info(conn)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Slot:          %d\n", info.Slot)
	fmt.Fprintf(c.out, "  Session:       %s\n", info.SessionID)
	fmt.Fprintf(c.out, "  Address:       %s\n", info.Address)
	fmt.Fprintf(c.out, "  State:         %s\n", info.State)
	fmt.Fprintf(c.out, "  Version:       %s\n", dash(info.Version))
	fmt.Fprintf(c.out, "  Codec:         %s\n", dash(info.Codec))
	fmt.Fprintf(c.out, "  Channel:       %s\n", dash(info.Channel))
	fmt.Fprintf(c.out, "  Ping:          %dms\n", info.Ping)
	fmt.Fprintf(c.out, "  Muted:         %v\n", info.Muted)
	fmt.Fprintf(c.out, "  Queued shots:  %d\n", info.QueuedShots)
	fmt.Fprintf(c.out, "  Connected at:  %s\n", info.ConnectedAt.Format(time.RFC3339))
	if len(info.Worms) > 0 {
		fmt.Fprintln(c.out, "  Worms:")
		for _, w := range info.Worms {
			fmt.Fprintf(c.out, "    %d %s\n", w.ID, w.Name)
		}
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdMute(ctx context.Context, args []string, muted bool) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}
	if err := c.exec(ctx, func(s *server.Server) error { return s.SetMuted(slot, muted) }); err != nil {
		return err
	}
	if muted {
		fmt.Fprintf(c.out, "Slot %d muted\n", slot)
	} else {
		fmt.Fprintf(c.out, "Slot %d unmuted\n", slot)
	}
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	slot, err := parseSlotArg(args)
	if err != nil {
		return err
	}
	if err := c.exec(ctx, func(s *server.Server) error { return s.Kick(slot) }); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Slot %d kicked\n", slot)
	return nil
}

func (c *CLI) printSessions(ctx context.Context, args []string) error {
	if c.sessions == nil {
		return errors.New("session journal disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	sessions, err := c.sessions.ListSessions(ctx, limit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Session", "Slot", "Address", "Version", "Connected", "Closed", "Reason"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, sess := range sessions {
		closed := "-"
		if sess.ClosedAt != nil {
			closed = sess.ClosedAt.Format(time.DateTime)
		}
		tw.Append([]string{
			sess.ID,
			strconv.Itoa(sess.Slot),
			sess.Address,
			dash(sess.Version),
			sess.ConnectedAt.Format(time.DateTime),
			closed,
			dash(sess.Reason),
		})
	}
	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: setconfig <key> <value>")
	}

	key := args[0]
	value := strings.Join(args[1:], " ")

	if err := c.cfg.UpdateServerField(key, parseValue(value)); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, value)
	return nil
}

// exec runs fn on the server goroutine and returns its error.
func (c *CLI) exec(ctx context.Context, fn func(*server.Server) error) error {
	var fnErr error
	if err := c.game.Exec(ctx, func(s *server.Server) { fnErr = fn(s) }); err != nil {
		return err
	}
	return fnErr
}

func parseSlotArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("slot number required")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot: %s", args[0])
	}
	return slot, nil
}

// parseValue types a command-line value so it decodes into numeric and
// boolean config fields.
func parseValue(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
