// Package network implements the WebSocket relay: the registry of active
// sessions and the session server that fans every decoded message out to
// all other peers.
package network

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/events"
)

// ErrConnectionClosed is returned by Send after Close.
var ErrConnectionClosed = errors.New("connection is closed")

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// Connection wraps a WebSocket connection to one emulator client.
// gorilla/websocket allows a single concurrent writer, so every write
// goes through mu.
type Connection struct {
	mu           sync.Mutex
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	openedAt   time.Time
	remoteAddr string

	closeOnce sync.Once
	closed    atomic.Bool
	reason    atomic.Int32

	framesIn     atomic.Uint64
	bytesIn      atomic.Uint64
	framesOut    atomic.Uint64
	sendFailures atomic.Uint64
}

// SessionInfo is a point-in-time view of a registered session.
type SessionInfo struct {
	ID           uint64    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	OpenedAt     time.Time `json:"opened_at"`
	FramesIn     uint64    `json:"frames_in"`
	BytesIn      uint64    `json:"bytes_in"`
	FramesOut    uint64    `json:"frames_out"`
	SendFailures uint64    `json:"send_failures"`
}

// NewConnection wraps an upgraded WebSocket connection.
func NewConnection(ws *websocket.Conn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	remote := ws.RemoteAddr().String()
	return &Connection{
		ws:           ws,
		writeTimeout: writeTimeout,
		openedAt:     time.Now(),
		remoteAddr:   remote,
		logger:       log.With().Str("component", "connection").Str("remote", remote).Logger(),
	}
}

// Send writes text as a single text frame.
func (c *Connection) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		c.sendFailures.Add(1)
		return ErrConnectionClosed
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.sendFailures.Add(1)
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.framesOut.Add(1)
	return nil
}

// ping writes a ping control frame.
func (c *Connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal closure frame and closes the socket. Only the
// first call has any effect; the close frame is best effort.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		if werr := c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		); werr != nil {
			c.logger.Debug().Err(werr).Msg("close frame not delivered")
		}
		c.mu.Unlock()

		err = c.ws.Close()
		c.logger.Debug().Msg("connection closed")
	})
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// markClosing records why the session is ending. The first reason wins.
func (c *Connection) markClosing(reason events.CloseReason) {
	c.reason.CompareAndSwap(int32(events.CloseReasonUnknown), int32(reason))
}

// Reason returns the recorded close reason.
func (c *Connection) Reason() events.CloseReason {
	return events.CloseReason(c.reason.Load())
}

func (c *Connection) recordInbound(n int) {
	c.framesIn.Add(1)
	c.bytesIn.Add(uint64(n))
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// OpenedAt returns the time the connection was established.
func (c *Connection) OpenedAt() time.Time {
	return c.openedAt
}

// Info returns the session counters under id.
func (c *Connection) Info(id uint64) SessionInfo {
	return SessionInfo{
		ID:           id,
		RemoteAddr:   c.remoteAddr,
		OpenedAt:     c.openedAt,
		FramesIn:     c.framesIn.Load(),
		BytesIn:      c.bytesIn.Load(),
		FramesOut:    c.framesOut.Load(),
		SendFailures: c.sendFailures.Load(),
	}
}
