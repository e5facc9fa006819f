package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/immxrtalbeast/axenix_mesh/internal/mesh"
)

var flagWait time.Duration

var shareCmd = &cobra.Command{
	Use:   "share <file>",
	Short: "Join a room, send one file to everyone connected, then leave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		f, err := readFile(args[0])
		if err != nil {
			return err
		}

		p := newPrinter(cmd.OutOrStdout(), ".")
		coord, err := newCoordinator(p, false)
		if err != nil {
			return err
		}
		defer coord.Leave()

		if err := coord.Join(ctx, flagRoom); err != nil {
			return err
		}

		n, err := waitForPeers(ctx, coord, flagWait)
		if err != nil {
			return err
		}
		p.notice("sending %s to %d peer(s)", f.Name, n)

		id, err := coord.ShareFile(ctx, f)
		if err != nil {
			return err
		}
		p.notice("shared %s (%s)", f.Name, id)

		// Give the transport a moment to flush before the links close.
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	},
}

func init() {
	shareCmd.Flags().DurationVar(&flagWait, "wait", 30*time.Second, "how long to wait for a connected peer")
}

func waitForPeers(ctx context.Context, coord *mesh.Coordinator, wait time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		n := 0
		for _, info := range coord.Peers() {
			if info.State == mesh.StateConnected && info.ChannelOpen {
				n++
			}
		}
		if n > 0 {
			return n, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("no peer connected within %s", wait)
			}
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
