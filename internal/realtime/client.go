package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arenaoj/pkg/utils/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// clientCommand is the in-band control frame clients send to manage room
// membership and to upgrade an anonymous connection.
type clientCommand struct {
	Action    string `json:"action"`
	ContestID int64  `json:"contest_id"`
	Token     string `json:"token,omitempty"`
}

// Client is one websocket connection. Connections start out anonymous when
// upgraded without a ticket and gain an identity through the in-band auth
// command. A connection can join multiple contest rooms; a slow consumer
// whose send buffer fills is disconnected rather than allowed to stall the
// fan-out path.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	verifier TokenVerifier
	send     chan []byte

	mu     sync.Mutex
	userID int64
	rooms  map[int64]struct{}
	closed bool
}

// NewClient wraps an upgraded connection. A zero userID is an anonymous
// viewer; verifier may be nil when in-band auth is not offered.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, verifier TokenVerifier) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		verifier: verifier,
		userID:   userID,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[int64]struct{}),
	}
}

// UserID returns the user behind the connection, zero while anonymous.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Run services the connection until it closes. It blocks in the read loop;
// the caller's handler goroutine is the read pump.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.LeaveAll(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "websocket closed unexpectedly",
					zap.Int64("user_id", c.UserID()),
					zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "auth":
			c.authenticate(ctx, cmd.Token)
		case "join":
			if err := c.hub.Join(ctx, cmd.ContestID, c); err != nil {
				logger.Warn(ctx, "room join failed",
					zap.Int64("user_id", c.UserID()),
					zap.Int64("contest_id", cmd.ContestID),
					zap.Error(err))
			}
		case "leave":
			c.hub.Leave(cmd.ContestID, c)
		}
	}
}

// authenticate upgrades an anonymous connection once a valid ticket arrives
// in-band. A bad ticket leaves the current identity untouched; the
// connection stays open as a viewer.
func (c *Client) authenticate(ctx context.Context, token string) {
	if c.verifier == nil || token == "" {
		return
	}
	userID, err := c.verifier.Verify(token)
	if err != nil {
		logger.Warn(ctx, "in-band auth failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a payload for delivery, dropping the connection when the
// buffer is full.
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) track(contestID int64) {
	c.mu.Lock()
	c.rooms[contestID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(contestID int64) {
	c.mu.Lock()
	delete(c.rooms, contestID)
	c.mu.Unlock()
}

func (c *Client) joinedRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]int64, 0, len(c.rooms))
	for contestID := range c.rooms {
		rooms = append(rooms, contestID)
	}
	return rooms
}
