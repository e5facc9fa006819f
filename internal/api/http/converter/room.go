package converter

import (
	"time"

	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
)

type RoomResponse struct {
	ID         string    `json:"id"`
	Peers      []string  `json:"peers"`
	PeersCount int       `json:"peers_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func RoomToApi(r repository.RoomSnapshot) *RoomResponse {
	peers := r.PeerIDs
	if peers == nil {
		peers = []string{}
	}
	return &RoomResponse{
		ID:         r.ID,
		Peers:      peers,
		PeersCount: len(peers),
		CreatedAt:  r.CreatedAt,
	}
}

func RoomsToApi(rooms []repository.RoomSnapshot) []*RoomResponse {
	result := make([]*RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		result = append(result, RoomToApi(r))
	}
	return result
}
