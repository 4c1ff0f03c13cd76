package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize bounds a single inbound frame; well above any real event payload but small enough to stop a
	// misbehaving client from exhausting memory one message at a time.
	maxMessageSize = 16 * 1024

	// writeWait is the time allowed to write a single frame to the peer.
	writeWait = 10 * time.Second

	// sendBuffer is the size of a connection's outbound queue. A slow reader that falls this far behind is
	// disconnected rather than allowed to stall broadcasts to every other subscriber of a room.
	sendBuffer = 256
)

// Client represents one live event-channel connection. It runs two goroutines, readPump and writePump, and
// communicates with the Hub only through its send channel and the methods the Hub calls directly while holding its
// own lock (register/unregister); Client never locks the Hub itself.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	userID       uuid.UUID
	sessionToken string
	sessionID    string
	log          zerolog.Logger

	send chan []byte

	// done is closed exactly once to signal shutdown. writePump and enqueue select on it instead of closing send
	// directly, which would otherwise race with a concurrent enqueue and panic on send-to-closed-channel.
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	subscribed map[uuid.UUID]struct{}

	// seq is a per-connection monotonic counter stamped on every frame appended to the replay buffer, so a
	// resumed session can ask for everything strictly after the last one it saw.
	seq atomic.Int64

	// inbound frame counter for this connection, reset every second; a connection that floods the server with
	// frames is disconnected rather than allowed to monopolize its goroutine.
	frameCount  int
	windowStart time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, sessionToken string, logger zerolog.Logger) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		userID:       userID,
		sessionToken: sessionToken,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		subscribed:   make(map[uuid.UUID]struct{}),
		log:          logger,
	}
}

// closeSend signals the write loop to drain and stop. Safe to call more than once or from multiple goroutines.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// isSubscribed reports whether the client is currently joined to room_<roomID>'s broadcast group.
func (c *Client) isSubscribed(roomID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[roomID]
	return ok
}

func (c *Client) addSubscription(roomID uuid.UUID) {
	c.mu.Lock()
	c.subscribed[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeSubscription(roomID uuid.UUID) {
	c.mu.Lock()
	delete(c.subscribed, roomID)
	c.mu.Unlock()
}

// subscriptionSnapshot returns the set of rooms currently subscribed, for unregister cleanup.
func (c *Client) subscriptionSnapshot() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	return ids
}

// enqueue places msg on the client's outbound queue. If the client is shutting down the message is silently
// dropped. If the queue is full, the message is dropped and the connection is closed so one stalled reader can
// never hold up fan-out to the rest of a room.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Stringer("user_id", c.userID).Msg("client send buffer full, closing connection")
		c.closeSend()
	}
}

// floodLimited tracks a coarse per-connection inbound frame rate, independent of any single event's own quota, to
// stop a client hammering the socket with otherwise-valid frames.
func (c *Client) floodLimited(maxPerSecond int) bool {
	now := time.Now()
	if now.Sub(c.windowStart) > time.Second {
		c.frameCount = 0
		c.windowStart = now
	}
	c.frameCount++
	return c.frameCount > maxPerSecond
}

// readPump reads frames off the WebSocket connection and dispatches them one at a time, in arrival order, giving
// strict per-connection FIFO processing. It owns closing the connection on exit.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	pingTimeout := time.Duration(c.hub.cfg.GatewayPingTimeoutMS) * time.Millisecond
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pingTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Stringer("user_id", c.userID).Msg("event channel read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pingTimeout))

		if c.floodLimited(50) {
			c.closeWithCode(CloseRateLimited, "too many frames")
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(encodeError("invalid_json", "malformed frame"))
			continue
		}

		c.hub.dispatch(c, frame.Name, frame.Data)
	}
}

// writePump drains the send channel to the WebSocket connection and sends periodic pings. It exits when done is
// closed, draining any buffered frames first so a graceful disconnect still delivers what was already queued.
func (c *Client) writePump() {
	ticker := time.NewTicker(time.Duration(c.hub.cfg.GatewayHeartbeatIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Stringer("user_id", c.userID).Msg("event channel write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.closeSend()
}
