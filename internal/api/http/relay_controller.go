package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/immxrtalbeast/axenix_mesh/internal/config"
	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/metrics"
	"github.com/immxrtalbeast/axenix_mesh/internal/service"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

// RelayController terminates participant websockets. Each connection gets
// one reader (this handler's goroutine) and one writer draining the member's
// outbound queue.
type RelayController struct {
	relay    service.RelayInteractor
	cfg      config.RelayConfig
	metrics  *metrics.Relay
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewRelayController(relay service.RelayInteractor, cfg config.RelayConfig, m *metrics.Relay, log *slog.Logger) *RelayController {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	return &RelayController{
		relay:   relay,
		cfg:     cfg,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *RelayController) Serve(ctx *gin.Context) {
	const op = "api.http.relay.serve"

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", slog.String("op", op), sl.Err(err))
		return
	}

	member := domain.NewMember(c.cfg.SendQueueSize)
	log := c.log.With(
		slog.String("op", op),
		slog.String("conn_id", member.ConnID.String()),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	log.Debug("connection opened")
	if c.metrics != nil {
		c.metrics.ConnectionOpened()
	}

	go c.writePump(conn, member, log)
	c.readPump(conn, member, log)

	c.relay.Leave(context.Background(), member)
	member.Close()
	_ = conn.Close()
	if c.metrics != nil {
		c.metrics.ConnectionClosed()
	}
	log.Debug("connection closed", slog.String("peer_id", member.PeerID))
}

func (c *RelayController) readPump(conn *websocket.Conn, member *domain.Member, log *slog.Logger) {
	if c.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	limiter := newLimiter(c.cfg.MessagesPerSecond, c.cfg.Burst)
	candidates := newLimiter(c.cfg.CandidatesPerSecond, c.cfg.CandidateBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("read failed", sl.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		l := limiter
		if isCandidate(data) {
			l = candidates
		}
		if l != nil && !l.Allow() {
			if c.metrics != nil {
				c.metrics.Dropped(metrics.ReasonRateLimited)
			}
			log.Warn("signal rate exceeded, dropping frame")
			continue
		}

		if err := c.relay.Handle(context.Background(), member, data); err != nil {
			if errors.Is(err, service.ErrProtocol) {
				log.Debug("ignoring frame", sl.Err(err))
			}
		}
	}
}

func (c *RelayController) writePump(conn *websocket.Conn, member *domain.Member, log *slog.Logger) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		msg, err := member.Next(context.Background())
		if err != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait),
			)
			_ = conn.Close()
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("write failed", sl.Err(err))
			_ = conn.Close()
			return
		}
	}
}

// newLimiter returns nil, meaning unlimited, for a non-positive rate.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func isCandidate(data []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &head) == nil && head.Type == domain.TypeICECandidate
}
