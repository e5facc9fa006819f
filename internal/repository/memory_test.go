package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
)

func newMember(peerID string) *domain.Member {
	m := domain.NewMember(8)
	m.PeerID = peerID
	return m
}

func TestRegistry_JoinCreatesRoomAndReturnsOthers(t *testing.T) {
	ctx := context.Background()
	reg := NewInMemoryRoomRegistry()

	replaced, others, err := reg.Join(ctx, "R1", newMember("alice"))
	require.NoError(t, err)
	assert.Nil(t, replaced)
	assert.Empty(t, others)

	replaced, others, err = reg.Join(ctx, "R1", newMember("bob"))
	require.NoError(t, err)
	assert.Nil(t, replaced)
	require.Len(t, others, 1)
	assert.Equal(t, "alice", others[0].PeerID)

	snap, err := reg.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, snap.PeerIDs)
}

func TestRegistry_LastJoinWins(t *testing.T) {
	ctx := context.Background()
	reg := NewInMemoryRoomRegistry()
	first := newMember("alice")
	second := newMember("alice")

	_, _, err := reg.Join(ctx, "R1", first)
	require.NoError(t, err)
	replaced, _, err := reg.Join(ctx, "R1", second)
	require.NoError(t, err)
	require.Same(t, first, replaced)

	got, err := reg.Lookup(ctx, "R1", "alice")
	require.NoError(t, err)
	assert.Same(t, second, got)

	// The replaced connection going away must not evict its successor.
	_, removed, err := reg.Leave(ctx, first)
	require.NoError(t, err)
	assert.False(t, removed)
	got, err = reg.Lookup(ctx, "R1", "alice")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestRegistry_RoomRemovedWhenEmptyAndRecreatedFresh(t *testing.T) {
	ctx := context.Background()
	reg := NewInMemoryRoomRegistry()
	alice := newMember("alice")
	bob := newMember("bob")
	_, _, _ = reg.Join(ctx, "R1", alice)
	_, _, _ = reg.Join(ctx, "R1", bob)

	remaining, removed, err := reg.Leave(ctx, alice)
	require.NoError(t, err)
	require.True(t, removed)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bob", remaining[0].PeerID)

	remaining, removed, err = reg.Leave(ctx, bob)
	require.NoError(t, err)
	require.True(t, removed)
	assert.Empty(t, remaining)
	assert.Equal(t, 0, reg.Len())
	_, err = reg.Get(ctx, "R1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = reg.Members(ctx, "R1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, others, err := reg.Join(ctx, "R1", newMember("carol"))
	require.NoError(t, err)
	assert.Empty(t, others)
	snap, err := reg.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, snap.PeerIDs)
}

func TestRegistry_LookupIsScopedToRoom(t *testing.T) {
	ctx := context.Background()
	reg := NewInMemoryRoomRegistry()
	_, _, _ = reg.Join(ctx, "R1", newMember("alice"))
	_, _, _ = reg.Join(ctx, "R2", newMember("bob"))

	_, err := reg.Lookup(ctx, "R1", "bob")
	assert.ErrorIs(t, err, ErrMemberNotFound)
	_, err = reg.Lookup(ctx, "R2", "bob")
	assert.NoError(t, err)
	_, err = reg.Lookup(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestRegistry_CanceledContext(t *testing.T) {
	reg := NewInMemoryRoomRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := reg.Join(ctx, "R1", newMember("alice"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Lookup(ctx, "R1", "alice")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = reg.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = reg.Leave(ctx, newMember("alice"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()
	reg := NewInMemoryRoomRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMember(fmt.Sprintf("peer-%d", i))
			_, _, _ = reg.Join(ctx, "R1", m)
			_, _ = reg.Members(ctx, "R1")
			_, _ = reg.List(ctx)
			_, _, _ = reg.Leave(ctx, m)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}
