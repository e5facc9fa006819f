package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMemberNotFound = errors.New("member not found")
)

type InMemoryRoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func NewInMemoryRoomRegistry() *InMemoryRoomRegistry {
	return &InMemoryRoomRegistry{
		rooms: make(map[string]*domain.Room),
	}
}

func (r *InMemoryRoomRegistry) Join(ctx context.Context, roomID string, member *domain.Member) (*domain.Member, []*domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = domain.NewRoom(roomID)
		r.rooms[roomID] = room
	}

	replaced := room.Members[member.PeerID]
	if replaced == member {
		replaced = nil
	}

	member.Room = roomID
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	room.Members[member.PeerID] = member

	return replaced, room.Others(member.PeerID), nil
}

func (r *InMemoryRoomRegistry) Leave(ctx context.Context, member *domain.Member) ([]*domain.Member, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[member.Room]
	if !ok {
		return nil, false, nil
	}

	current, ok := room.Members[member.PeerID]
	if !ok || current.ConnID != member.ConnID {
		return nil, false, nil
	}

	delete(room.Members, member.PeerID)
	if room.IsEmpty() {
		delete(r.rooms, room.ID)
		return nil, true, nil
	}

	return room.Others(""), true, nil
}

func (r *InMemoryRoomRegistry) Lookup(ctx context.Context, roomID, peerID string) (*domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrMemberNotFound
	}

	member, ok := room.Members[peerID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

func (r *InMemoryRoomRegistry) Members(ctx context.Context, roomID string) ([]*domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Others(""), nil
}

func (r *InMemoryRoomRegistry) Get(ctx context.Context, roomID string) (RoomSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return RoomSnapshot{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	return snapshot(room), nil
}

func (r *InMemoryRoomRegistry) List(ctx context.Context) ([]RoomSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]RoomSnapshot, 0, len(r.rooms))
	for _, room := range r.rooms {
		result = append(result, snapshot(room))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Len is the number of live rooms. It backs a metrics gauge and so takes no
// context.
func (r *InMemoryRoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func snapshot(room *domain.Room) RoomSnapshot {
	ids := make([]string, 0, len(room.Members))
	for id := range room.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return RoomSnapshot{
		ID:        room.ID,
		PeerIDs:   ids,
		CreatedAt: room.CreatedAt,
	}
}
