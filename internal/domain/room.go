package domain

import (
	"time"
)

// Room groups the members that may negotiate with each other. It is not
// synchronized; the registry that owns it serializes access.
type Room struct {
	ID        string
	Members   map[string]*Member
	CreatedAt time.Time
}

func NewRoom(id string) *Room {
	return &Room{
		ID:        id,
		Members:   make(map[string]*Member),
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

// Others returns every member except the one named by exclude.
func (r *Room) Others(exclude string) []*Member {
	members := make([]*Member, 0, len(r.Members))
	for id, m := range r.Members {
		if id == exclude {
			continue
		}
		members = append(members, m)
	}
	return members
}
