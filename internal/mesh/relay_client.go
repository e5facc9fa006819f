package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cheggaaa/mb/v3"
	"github.com/gorilla/websocket"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

const (
	relayWriteWait      = 10 * time.Second
	relayPongWait       = 60 * time.Second
	relayPingPeriod     = (relayPongWait * 9) / 10
	relayMaxMessageSize = 64 * 1024
	relayQueueSize      = 256
)

var ErrRelayClosed = errors.New("relay connection closed")

// RelayClient is the participant end of the signaling websocket.
type RelayClient struct {
	conn      *websocket.Conn
	outbox    *mb.MB[domain.SignalMessage]
	onMessage func(domain.SignalMessage)
	onClose   func(error)
	log       *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	lostOnce  sync.Once
}

// DialRelay connects to the relay at url. onMessage runs on the read
// goroutine; onClose runs once if the connection is lost without Close.
func DialRelay(
	ctx context.Context,
	dialer *websocket.Dialer,
	url string,
	onMessage func(domain.SignalMessage),
	onClose func(error),
	log *slog.Logger,
) (*RelayClient, error) {
	const op = "mesh.DialRelay"

	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ConnectivityError{Op: "dial relay " + url, Err: err}
	}

	c := &RelayClient{
		conn:      conn,
		outbox:    mb.New[domain.SignalMessage](relayQueueSize),
		onMessage: onMessage,
		onClose:   onClose,
		log:       log.With(slog.String("op", op), slog.String("relay", url)),
		closing:   make(chan struct{}),
	}

	conn.SetReadLimit(relayMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(relayPongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send queues msg for the relay without blocking.
func (c *RelayClient) Send(msg domain.SignalMessage) error {
	if err := c.outbox.TryAdd(msg); err != nil {
		if errors.Is(err, mb.ErrClosed) {
			return ErrRelayClosed
		}
		return &ConnectivityError{Op: "queue signal", Err: err}
	}
	return nil
}

func (c *RelayClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.outbox.Close()
	})
	return nil
}

func (c *RelayClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(relayPongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosing() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("relay read failed", sl.Err(err))
			}
			c.lost(&ConnectivityError{Op: "read relay", Err: err})
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(relayPongWait))

		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping malformed relay frame", sl.Err(err))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *RelayClient) writePump() {
	ticker := time.NewTicker(relayPingPeriod)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-c.closing:
				return
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(relayWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		msg, err := c.outbox.WaitOne(context.Background())
		if err != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(relayWriteWait),
			)
			_ = c.conn.Close()
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.lost(&ConnectivityError{Op: "write relay", Err: err})
			_ = c.conn.Close()
			return
		}
	}
}

func (c *RelayClient) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *RelayClient) lost(err error) {
	c.lostOnce.Do(func() {
		_ = c.outbox.Close()
		if c.isClosing() || c.onClose == nil {
			return
		}
		c.onClose(err)
	})
}
