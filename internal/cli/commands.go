// Package cli implements the interactive operator console for the relay.
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

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/health"
	"github.com/statecast-project/statecast/internal/network"
)

// Sessions is the view of the session server the console operates on.
type Sessions interface {
	Count() int
	Sessions() []network.SessionInfo
	Kick(id uint64) error
}

// StatusSource reports relay health.
type StatusSource interface {
	Status() health.Status
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	sessions Sessions
	health   StatusSource

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// health may be nil.
func NewCLI(eventBus *events.EventBus, sessions Sessions, health StatusSource, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		sessions: sessions,
		health:   health,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nStatecast console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "statecast> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		quit, err := c.execute(ctx, cmd, parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute processes a single command and reports whether the loop should
// stop.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions", "ls":
		c.printSessions()
	case "kick":
		return false, c.cmdKick(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down statecast...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   Statecast Console Commands                 ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show relay health and session count      ║")
	fmt.Fprintln(c.out, "║  sessions           List connected sessions                  ║")
	fmt.Fprintln(c.out, "║  kick <id>          Disconnect a session                     ║")
	fmt.Fprintln(c.out, "║  quit               Shut down statecast                      ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	fmt.Fprintf(c.out, "\n  Active sessions: %d\n", c.sessions.Count())

	if c.health == nil {
		fmt.Fprintln(c.out)
		return
	}

	status := c.health.Status()
	fmt.Fprintf(c.out, "  Healthy:         %v\n", status.Healthy)
	fmt.Fprintf(c.out, "  Uptime:          %s\n", status.Uptime)
	fmt.Fprintf(c.out, "  Peak sessions:   %d\n", status.PeakSessions)
	fmt.Fprintf(c.out, "  CPU usage:       %.1f%%\n", status.CPUPercent)
	if status.Memory != nil {
		fmt.Fprintf(c.out, "  Memory usage:    %.1f%%\n", status.Memory.UsedPercent)
	}
	for name, warning := range status.Warnings {
		fmt.Fprintf(c.out, "  Warning [%s]:    %s\n", name, warning)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printSessions() {
	sessions := c.sessions.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No active sessions")
		return
	}

	fmt.Fprintln(c.out)

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Remote", "Connected", "Frames In", "Bytes In", "Frames Out", "Send Failures"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			strconv.FormatUint(s.ID, 10),
			s.RemoteAddr,
			time.Since(s.OpenedAt).Truncate(time.Second).String(),
			strconv.FormatUint(s.FramesIn, 10),
			humanize.IBytes(s.BytesIn),
			strconv.FormatUint(s.FramesOut, 10),
			strconv.FormatUint(s.SendFailures, 10),
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kick <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", args[0])
	}

	if err := c.sessions.Kick(id); err != nil {
		return err
	}
	log.Info().Uint64("session_id", id).Str("source", "cli").Msg("session kicked")
	fmt.Fprintf(c.out, "Session %d kicked\n", id)
	return nil
}
