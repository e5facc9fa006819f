package repository

import (
	"context"
	"time"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
)

// RoomSnapshot is a point-in-time copy of a room's membership.
type RoomSnapshot struct {
	ID        string
	PeerIDs   []string
	CreatedAt time.Time
}

type RoomRegistry interface {
	// Join installs member into room, creating the room on first use. A member
	// already registered under the same peer id is replaced and returned.
	Join(ctx context.Context, roomID string, member *domain.Member) (replaced *domain.Member, others []*domain.Member, err error)
	// Leave removes the member only if it is still the registered connection
	// for that peer id. The room is deleted once it becomes empty.
	Leave(ctx context.Context, member *domain.Member) (remaining []*domain.Member, removed bool, err error)
	Lookup(ctx context.Context, roomID, peerID string) (*domain.Member, error)
	Members(ctx context.Context, roomID string) ([]*domain.Member, error)
	Get(ctx context.Context, roomID string) (RoomSnapshot, error)
	List(ctx context.Context) ([]RoomSnapshot, error)
	Len() int
}
