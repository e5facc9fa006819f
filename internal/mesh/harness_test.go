package mesh

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	apihttp "github.com/immxrtalbeast/axenix_mesh/internal/api/http"
	"github.com/immxrtalbeast/axenix_mesh/internal/channelproto"
	"github.com/immxrtalbeast/axenix_mesh/internal/config"
	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/metrics"
	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
	"github.com/immxrtalbeast/axenix_mesh/internal/sealer"
	"github.com/immxrtalbeast/axenix_mesh/internal/service"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/slogdiscard"
)

const waitFor = 5 * time.Second

// startRelay runs the real signaling relay and returns its websocket URL.
func startRelay(t *testing.T) (string, *repository.InMemoryRoomRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slogdiscard.NewDiscardLogger()
	reg := repository.NewInMemoryRoomRegistry()
	m := metrics.NewRelay(reg.Len)
	relay := service.NewRelayService(reg, m, log, 64)

	router := apihttp.SetupRouter(
		apihttp.NewRelayController(relay, config.RelayConfig{
			MaxMessageBytes: 64 * 1024,
			SendQueueSize:   256,
			WriteWait:       time.Second,
			PongWait:        10 * time.Second,
		}, m, log),
		apihttp.NewRoomController(relay),
		nil,
		nil,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", reg
}

type recorder struct {
	mu      sync.Mutex
	joined  []string
	left    map[string]error
	chats   []channelproto.ChatMessage
	files   []channelproto.File
	actions []json.RawMessage
	tracks  []RemoteTrack
}

func newRecorder() *recorder {
	return &recorder{left: make(map[string]error)}
}

func (r *recorder) PeerJoined(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, peerID)
}

func (r *recorder) PeerLeft(peerID string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left[peerID] = reason
}

func (r *recorder) RemoteTrack(peerID string, track RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
}

func (r *recorder) Chat(peerID string, msg channelproto.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, msg)
}

func (r *recorder) File(peerID string, f channelproto.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, f)
}

func (r *recorder) Apply(peerID string, action json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *recorder) chatTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.chats))
	for _, c := range r.chats {
		out = append(out, c.Sender+": "+c.Message)
	}
	return out
}

func (r *recorder) fileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

func (r *recorder) leftReason(peerID string) (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err, ok := r.left[peerID]
	return err, ok
}

type testPeer struct {
	name string
	c    *Coordinator
	rec  *recorder
}

type testMesh struct {
	t        *testing.T
	url      string
	registry *repository.InMemoryRoomRegistry
	net      *fakeNet
	sealer   *sealer.Sealer
}

func newTestMesh(t *testing.T) *testMesh {
	t.Helper()
	s, _, err := sealer.Generate()
	require.NoError(t, err)
	url, reg := startRelay(t)
	return &testMesh{t: t, url: url, registry: reg, net: newFakeNet(), sealer: s}
}

// join joins p to room and waits until the relay has registered it, so
// membership order follows call order.
func (m *testMesh) join(p *testPeer, room string) {
	m.t.Helper()
	require.NoError(m.t, p.c.Join(context.Background(), room))
	require.Eventually(m.t, func() bool {
		_, err := m.registry.Lookup(context.Background(), room, p.name)
		return err == nil
	}, waitFor, 5*time.Millisecond)
}

func (m *testMesh) peer(name string, mods ...func(*Options)) *testPeer {
	m.t.Helper()
	rec := newRecorder()
	opts := Options{
		RelayURL:           m.url,
		Identity:           domain.NewGuestIdentity(name),
		NewLink:            m.net.factory(name),
		Sealer:             m.sealer,
		Handlers:           channelproto.Handlers{Chat: rec, Drawing: rec, Files: rec},
		Listener:           rec,
		NegotiationTimeout: waitFor,
		ChunkDelay:         time.Millisecond,
		Log:                slogdiscard.NewDiscardLogger(),
	}
	for _, mod := range mods {
		mod(&opts)
	}
	c, err := New(opts)
	require.NoError(m.t, err)
	m.t.Cleanup(func() { _ = c.Leave() })
	return &testPeer{name: name, c: c, rec: rec}
}

// connectedTo reports whether p has an open channel to exactly the given
// peers.
func (p *testPeer) connectedTo(ids ...string) bool {
	peers := p.c.Peers()
	if len(peers) != len(ids) {
		return false
	}
	for i, info := range peers {
		if info.PeerID != ids[i] || info.State != StateConnected || !info.ChannelOpen {
			return false
		}
	}
	return true
}
