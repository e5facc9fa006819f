package service

import (
	"context"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
)

type RelayInteractor interface {
	// Handle interprets one inbound frame from member's connection.
	Handle(ctx context.Context, member *domain.Member, data []byte) error
	Leave(ctx context.Context, member *domain.Member)
	ListRooms(ctx context.Context) ([]repository.RoomSnapshot, error)
	GetRoom(ctx context.Context, id string) (repository.RoomSnapshot, error)
}
