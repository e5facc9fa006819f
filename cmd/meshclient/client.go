package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/axenix_mesh/internal/channelproto"
	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/mesh"
	"github.com/immxrtalbeast/axenix_mesh/internal/sealer"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

var errNoKey = errors.New("room key is required: pass --key or set client.shared_key (see meshclient keygen)")

func newCoordinator(p *printer, withMedia bool) (*mesh.Coordinator, error) {
	if strings.TrimSpace(flagName) == "" {
		return nil, errors.New("--name is required")
	}
	if strings.TrimSpace(flagRoom) == "" {
		return nil, errors.New("--room is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.Env)
	p.log = log

	if cfg.Client.SharedKey == "" {
		return nil, errNoKey
	}
	seal, err := sealer.Parse(cfg.Client.Cipher, cfg.Client.SharedKey)
	if err != nil {
		return nil, err
	}
	codec, err := channelproto.CodecByName(cfg.Client.Codec)
	if err != nil {
		return nil, err
	}

	opts := mesh.Options{
		RelayURL:           cfg.Client.RelayURL,
		Identity:           domain.NewGuestIdentity(flagName),
		NewLink:            mesh.NewPionLinkFactory(webrtc.Configuration{ICEServers: cfg.WebRTC.ICEServers()}),
		Sealer:             seal,
		Codec:              codec,
		Handlers:           channelproto.Handlers{Chat: p, Drawing: p, Files: p},
		Listener:           p,
		NegotiationTimeout: cfg.Client.NegotiationTimeout,
		ChunkDelay:         cfg.Client.ChunkDelay,
		MaxFileBytes:       cfg.Client.MaxFileBytes,
		Log:                log,
	}
	if withMedia {
		opts.Media = mesh.NewSampleCapture(flagName)
	}

	return mesh.New(opts)
}

func readFile(path string) (channelproto.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return channelproto.File{}, err
	}
	typ := mime.TypeByExtension(filepath.Ext(path))
	if typ == "" {
		typ = http.DetectContentType(data)
	}
	return channelproto.File{Name: filepath.Base(path), Type: typ, Data: data}, nil
}

// printer renders mesh activity as a transcript and stores received files.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	saveDir string
	log     *slog.Logger
}

func newPrinter(out io.Writer, saveDir string) *printer {
	return &printer{out: out, saveDir: saveDir, log: slog.Default()}
}

func (p *printer) notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, color.HiBlackString("* "+format, args...))
}

func (p *printer) PeerJoined(peerID string) {
	p.notice("%s is connecting", peerID)
}

func (p *printer) PeerLeft(peerID string, reason error) {
	if errors.Is(reason, mesh.ErrRemoteLeft) || errors.Is(reason, mesh.ErrClosed) {
		p.notice("%s left", peerID)
		return
	}
	p.notice("lost %s: %v", peerID, reason)
}

func (p *printer) RemoteTrack(peerID string, track mesh.RemoteTrack) {
	p.notice("receiving %s from %s", track.Kind(), peerID)
}

func (p *printer) Chat(peerID string, msg channelproto.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sender := msg.Sender
	if sender == "" {
		sender = peerID
	}
	fmt.Fprintf(p.out, "%s %s %s\n",
		color.HiBlackString(msg.Timestamp.Local().Format("15:04")),
		color.CyanString(sender+":"),
		msg.Message,
	)
}

func (p *printer) own(msg channelproto.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s %s\n",
		color.HiBlackString(msg.Timestamp.Local().Format("15:04")),
		color.GreenString(msg.Sender+":"),
		msg.Message,
	)
}

func (p *printer) Apply(peerID string, action json.RawMessage) error {
	var stroke channelproto.DrawAction
	if err := json.Unmarshal(action, &stroke); err != nil {
		return err
	}
	if stroke.Tool == channelproto.ToolClear {
		p.notice("%s cleared the whiteboard", peerID)
		return nil
	}
	p.notice("%s drew %s (%.0f,%.0f)->(%.0f,%.0f)", peerID, stroke.Tool, stroke.StartX, stroke.StartY, stroke.EndX, stroke.EndY)
	return nil
}

func (p *printer) File(peerID string, f channelproto.File) {
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = f.ID
	}
	path := filepath.Join(p.saveDir, fmt.Sprintf("%s-%s", time.Now().Format("150405"), name))

	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		p.log.Error("failed to save file", slog.String("name", name), sl.Err(err))
		return
	}
	p.notice("%s shared %s (%d bytes), saved to %s", peerID, name, len(f.Data), path)
}
