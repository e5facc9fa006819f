package domain

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyUsername = errors.New("username is required")

// Identity is the local participant as reported by the identity provider.
type Identity struct {
	Username string `json:"username"`
}

type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// StaticIdentity is a guest identity that never changes.
type StaticIdentity struct {
	username string
}

func NewGuestIdentity(username string) *StaticIdentity {
	return &StaticIdentity{username: strings.TrimSpace(username)}
}

func (s *StaticIdentity) Identity(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if s.username == "" {
		return Identity{}, ErrEmptyUsername
	}
	return Identity{Username: s.username}, nil
}
