package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chatgate/logger"
)

// Conn is the transport half of a client session. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client represents one authenticated session on this gateway. A single user
// may hold several simultaneous connections, each maintained separately.
// The client owns its transport; the registry and dispatcher only hold the
// delivery handle (the Send queue).
type Client struct {
	ConnID      string
	UserID      string
	Username    string
	DisplayName string

	Conn Conn
	Send chan []byte // consumed by a single writer goroutine

	CreatedAt time.Time

	lastActivity atomic.Int64 // unix nanos
	closeOnce    sync.Once
	done         chan struct{}
}

func NewClient(connID, userID, username, displayName string, conn Conn, sendQueueSize int) *Client {
	if displayName == "" {
		displayName = username
	}
	c := &Client{
		ConnID:      connID,
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		Conn:        conn,
		Send:        make(chan []byte, sendQueueSize),
		CreatedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch refreshes the last-activity timestamp. Called on every inbound frame;
// the idle sweeper reads it.
func (c *Client) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// enqueue hands a payload to the writer goroutine without blocking. A closed
// or saturated queue reports false; the caller treats the connection as dead.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the transport and stops the writer exactly once. Safe to
// call from the transport-error, idle-reaper and delivery-failure paths
// concurrently.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// writePump drains the send queue onto the transport. One writer per
// connection keeps per-origin delivery order intact. A write error or timeout
// marks the connection dead via onDead.
func (c *Client) writePump(writeTimeout time.Duration, onDead func()) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				logger.Debugf("[client] set write deadline conn=%s err=%v", c.ConnID, err)
				onDead()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[client] write failed conn=%s user=%s err=%v", c.ConnID, c.UserID, err)
				onDead()
				return
			}
		}
	}
}
