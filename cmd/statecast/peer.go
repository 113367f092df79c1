package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/statecast-project/statecast/internal/client"
	"github.com/statecast-project/statecast/internal/delta"
	"github.com/statecast-project/statecast/internal/protocol"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <url>",
		Short: "Connect to a relay and print every message it forwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.Dial(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			return watch(ctx, c, cmd.OutOrStdout())
		},
	}
}

// receiver is the part of client.Client that watch reads from.
type receiver interface {
	Receive(ctx context.Context) (protocol.Message, error)
}

// watch prints one line per message until ctx ends or the relay closes the
// connection. Snapshots and deltas are folded into a baseline so a delta
// that does not fit is reported.
func watch(ctx context.Context, r receiver, out io.Writer) error {
	var baseline client.Baseline

	for {
		m, err := r.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		line := fmt.Sprintf("%s %-14s %s",
			time.Now().Format("15:04:05.000"), m.Kind(), humanize.IBytes(uint64(m.Size())))

		if _, tracked, err := baseline.Apply(m); tracked {
			switch {
			case errors.Is(err, delta.ErrHashMismatch):
				line += " (baseline mismatch, waiting for snapshot)"
			case errors.Is(err, client.ErrNoBaseline):
				line += " (no baseline yet)"
			case err != nil:
				line += fmt.Sprintf(" (%v)", err)
			}
		}
		fmt.Fprintln(out, line)
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <url> <bios|rom|snapshot> <file>",
		Short: "Send a file to every peer connected to a relay",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := fileMessage(args[1], args[2])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			c, err := client.Dial(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Send(msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%s)\n", msg.Kind(), humanize.IBytes(uint64(msg.Size())))
			return nil
		},
	}
}

// fileMessage reads path into a message of the named kind.
func fileMessage(kind, path string) (protocol.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("%s is %s, larger than the %s limit",
			path, humanize.IBytes(uint64(len(data))), humanize.IBytes(protocol.MaxPayloadSize))
	}

	switch kind {
	case "bios":
		return protocol.Bios{Image: data}, nil
	case "rom":
		return protocol.Rom{Image: data}, nil
	case "snapshot":
		return protocol.Snapshot{State: data}, nil
	}
	return nil, fmt.Errorf("unknown kind %q, want bios, rom or snapshot", kind)
}
