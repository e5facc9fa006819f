package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/metrics"
	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

const defaultMaxIDLength = 128

type RelayService struct {
	rooms       repository.RoomRegistry
	metrics     *metrics.Relay
	log         *slog.Logger
	maxIDLength int
}

func NewRelayService(rooms repository.RoomRegistry, m *metrics.Relay, log *slog.Logger, maxIDLength int) *RelayService {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewRelay(rooms.Len)
	}
	if maxIDLength <= 0 {
		maxIDLength = defaultMaxIDLength
	}
	return &RelayService{
		rooms:       rooms,
		metrics:     m,
		log:         log,
		maxIDLength: maxIDLength,
	}
}

func (s *RelayService) Handle(ctx context.Context, member *domain.Member, data []byte) error {
	const op = "service.relay.handle"
	log := s.log.With(
		slog.String("op", op),
		slog.String("conn_id", member.ConnID.String()),
	)

	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.metrics.Dropped(metrics.ReasonMalformed)
		log.Warn("malformed signal", sl.Err(err))
		return protocolErr("", "malformed json", err)
	}

	var err error
	switch {
	case msg.Type == domain.TypeJoin:
		err = s.join(ctx, member, &msg)
	case msg.IsNegotiation():
		err = s.forward(ctx, member, &msg)
	default:
		s.metrics.Dropped(metrics.ReasonMalformed)
		err = protocolErr(msg.Type, "unsupported message type", nil)
	}

	if err != nil {
		log.Debug("signal dropped", slog.String("type", msg.Type), sl.Err(err))
	}
	return err
}

func (s *RelayService) join(ctx context.Context, member *domain.Member, msg *domain.SignalMessage) error {
	const op = "service.relay.join"

	if member.Joined() {
		s.metrics.Dropped(metrics.ReasonMalformed)
		return protocolErr(msg.Type, "connection already joined "+member.Room, nil)
	}

	room := strings.TrimSpace(msg.Room)
	peerID := strings.TrimSpace(msg.PeerID)
	if err := s.validateID("room", room); err != nil {
		s.metrics.Dropped(metrics.ReasonMalformed)
		return protocolErr(msg.Type, err.Error(), nil)
	}
	if err := s.validateID("peerId", peerID); err != nil {
		s.metrics.Dropped(metrics.ReasonMalformed)
		return protocolErr(msg.Type, err.Error(), nil)
	}

	member.PeerID = peerID
	replaced, others, err := s.rooms.Join(ctx, room, member)
	if err != nil {
		return err
	}
	if replaced != nil {
		// Same display name joined again: the newer connection takes over.
		replaced.Close()
		s.log.Info("member replaced",
			slog.String("op", op),
			slog.String("room", room),
			slog.String("peer_id", peerID),
			slog.String("old_conn_id", replaced.ConnID.String()),
		)
	} else {
		s.metrics.MemberJoined()
	}

	s.broadcast(others, domain.SignalMessage{
		Type: domain.TypePeerJoined,
		From: peerID,
		Room: room,
	})

	s.log.Info("peer joined",
		slog.String("op", op),
		slog.String("room", room),
		slog.String("peer_id", peerID),
		slog.Int("peers_count", len(others)+1),
	)
	return nil
}

func (s *RelayService) forward(ctx context.Context, member *domain.Member, msg *domain.SignalMessage) error {
	if !member.Joined() {
		s.metrics.Dropped(metrics.ReasonNotJoined)
		return protocolErr(msg.Type, "join required before signaling", nil)
	}
	if msg.To == "" {
		s.metrics.Dropped(metrics.ReasonMalformed)
		return protocolErr(msg.Type, "missing recipient", nil)
	}

	target, err := s.rooms.Lookup(ctx, member.Room, msg.To)
	if errors.Is(err, repository.ErrMemberNotFound) {
		s.metrics.Dropped(metrics.ReasonPeerNotFound)
		return fmt.Errorf("%s to %q: %w", msg.Type, msg.To, ErrPeerNotFound)
	}
	if err != nil {
		return err
	}

	forward := *msg
	forward.From = member.PeerID
	forward.Room = member.Room
	forward.PeerID = ""

	if !target.Enqueue(forward) {
		s.metrics.Dropped(metrics.ReasonQueueFull)
		s.log.Warn("recipient queue unavailable",
			slog.String("room", member.Room),
			slog.String("to", msg.To),
			slog.String("type", msg.Type),
		)
		return nil
	}
	s.metrics.Forwarded(msg.Type)
	return nil
}

func (s *RelayService) Leave(ctx context.Context, member *domain.Member) {
	const op = "service.relay.leave"

	if !member.Joined() {
		return
	}

	remaining, removed, err := s.rooms.Leave(ctx, member)
	if err != nil {
		s.log.Error("failed to leave room", slog.String("op", op), sl.Err(err))
		return
	}
	if !removed {
		return
	}
	s.metrics.MemberLeft()

	s.broadcast(remaining, domain.SignalMessage{
		Type: domain.TypePeerLeft,
		From: member.PeerID,
		Room: member.Room,
	})

	s.log.Info("peer left",
		slog.String("op", op),
		slog.String("room", member.Room),
		slog.String("peer_id", member.PeerID),
		slog.Int("peers_count", len(remaining)),
	)
}

func (s *RelayService) ListRooms(ctx context.Context) ([]repository.RoomSnapshot, error) {
	return s.rooms.List(ctx)
}

func (s *RelayService) GetRoom(ctx context.Context, id string) (repository.RoomSnapshot, error) {
	return s.rooms.Get(ctx, id)
}

func (s *RelayService) broadcast(members []*domain.Member, msg domain.SignalMessage) {
	for _, m := range members {
		if !m.Enqueue(msg) {
			s.metrics.Dropped(metrics.ReasonQueueFull)
			s.log.Debug("dropping broadcast event", slog.String("peer", m.PeerID), slog.String("type", msg.Type))
			continue
		}
		s.metrics.Forwarded(msg.Type)
	}
}

func (s *RelayService) validateID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(value) > s.maxIDLength {
		return fmt.Errorf("%s is too long", field)
	}
	return nil
}
