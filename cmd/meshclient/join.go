package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/immxrtalbeast/axenix_mesh/internal/channelproto"
	"github.com/immxrtalbeast/axenix_mesh/internal/mesh"
)

var (
	flagOut   string
	flagMedia bool
)

var errQuit = errors.New("quit")

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and chat from stdin",
	Long: `Join a room and stay connected. Lines typed on stdin are sent as chat;
lines starting with / are commands (see /help).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := newPrinter(cmd.OutOrStdout(), flagOut)
		coord, err := newCoordinator(p, flagMedia)
		if err != nil {
			return err
		}
		defer coord.Leave()

		if flagMedia {
			if err := coord.AttachLocalMedia(ctx); err != nil {
				return err
			}
		}
		if err := coord.Join(ctx, flagRoom); err != nil {
			return err
		}
		p.notice("joined %s as %s, /help lists commands", flagRoom, flagName)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if err := handleLine(ctx, coord, p, line); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					p.notice("%v", err)
				}
			}
		}
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagOut, "out", "o", ".", "directory for received files")
	joinCmd.Flags().BoolVar(&flagMedia, "media", false, "offer empty sample audio and video tracks (no samples are written)")
}

func handleLine(ctx context.Context, coord *mesh.Coordinator, p *printer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		msg, err := coord.SendChat(ctx, line)
		if err != nil {
			return err
		}
		p.own(msg)
		return nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return errQuit

	case "/help":
		p.notice("/peers, /file <path>, /draw x1 y1 x2 y2, /clear, /screen on|off, /mute|/unmute audio|video, /quit")

	case "/peers":
		peers := coord.Peers()
		if len(peers) == 0 {
			p.notice("nobody else is here")
		}
		for _, info := range peers {
			p.notice("%s %s (%s)", info.PeerID, info.State, info.Role)
		}

	case "/file":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /file <path>")
		}
		f, err := readFile(strings.TrimSpace(strings.TrimPrefix(line, "/file")))
		if err != nil {
			return err
		}
		go func() {
			id, err := coord.ShareFile(ctx, f)
			if err != nil {
				p.notice("sharing %s failed: %v", f.Name, err)
				return
			}
			p.notice("shared %s (%s)", f.Name, id)
		}()

	case "/draw":
		if len(fields) != 5 {
			return fmt.Errorf("usage: /draw x1 y1 x2 y2")
		}
		var pts [4]float64
		for i := range pts {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return fmt.Errorf("bad coordinate %q", fields[i+1])
			}
			pts[i] = v
		}
		return coord.SendDrawing(ctx, channelproto.DrawAction{
			Tool:      channelproto.ToolPen,
			Color:     "#000000",
			LineWidth: 2,
			StartX:    pts[0],
			StartY:    pts[1],
			EndX:      pts[2],
			EndY:      pts[3],
		})

	case "/clear":
		return coord.SendDrawing(ctx, channelproto.DrawAction{Tool: channelproto.ToolClear})

	case "/screen":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /screen on|off")
		}
		if fields[1] == "on" {
			return coord.StartScreenShare(ctx)
		}
		return coord.StopScreenShare(ctx)

	case "/mute", "/unmute":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s audio|video", fields[0])
		}
		enabled := fields[0] == "/unmute"
		switch fields[1] {
		case "audio":
			return coord.SetAudioEnabled(ctx, enabled)
		case "video":
			return coord.SetVideoEnabled(ctx, enabled)
		}
		return fmt.Errorf("usage: %s audio|video", fields[0])

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}
