// Package client is a Go peer for the relay: it dials the WebSocket
// endpoint, sends encoded messages and decodes what other peers send.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/delta"
	"github.com/statecast-project/statecast/internal/protocol"
)

// ErrUnexpectedFrame is returned by Receive for a non-text frame.
var ErrUnexpectedFrame = errors.New("client: unexpected non-text frame")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	// Largest text frame accepted, matching the server's default.
	readLimit = 192 << 20
)

// Client is one connected peer. Sends are safe for concurrent use;
// Receive must be called from a single goroutine.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	lastSent []byte

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{
		conn:   conn,
		logger: log.With().Str("component", "client").Str("url", url).Logger(),
	}
	c.logger.Debug().Msg("connected")
	return c, nil
}

// Send encodes m and writes it as one text frame.
func (c *Client) Send(m protocol.Message) error {
	text := protocol.EncodeText(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}

	c.logger.Trace().
		Str("kind", m.Kind().String()).
		Int("bytes", m.Size()).
		Msg("sent")
	return nil
}

// SendBios sends a firmware image.
func (c *Client) SendBios(image []byte) error {
	return c.Send(protocol.Bios{Image: image})
}

// SendRom sends a cartridge image.
func (c *Client) SendRom(image []byte) error {
	return c.Send(protocol.Rom{Image: image})
}

// SendPlay sends an opaque control event.
func (c *Client) SendPlay(event []byte) error {
	return c.Send(protocol.Play{Event: event})
}

// SendSnapshot sends a full state buffer.
func (c *Client) SendSnapshot(state []byte) error {
	return c.Send(protocol.Snapshot{State: state})
}

// SendDelta sends the difference between old and next. Both must have the
// same length.
func (c *Client) SendDelta(old, next []byte) error {
	d, err := delta.Diff(old, next)
	if err != nil {
		return err
	}
	return c.Send(protocol.DeltaSnapshot{Delta: d})
}

// SendState sends state as a delta against the previous SendState call,
// or as a full snapshot the first time and whenever the length changes.
// Calls must not overlap.
func (c *Client) SendState(state []byte) error {
	c.mu.Lock()
	last := c.lastSent
	c.mu.Unlock()

	var err error
	if last == nil || len(last) != len(state) {
		err = c.SendSnapshot(state)
	} else {
		err = c.SendDelta(last, state)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSent = append(c.lastSent[:0], state...)
	c.mu.Unlock()
	return nil
}

// ResetState makes the next SendState send a full snapshot.
func (c *Client) ResetState() {
	c.mu.Lock()
	c.lastSent = nil
	c.mu.Unlock()
}

// Receive blocks for the next message. Cancelling ctx aborts the read and
// leaves the connection unusable for further reads.
func (c *Client) Receive(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, ErrUnexpectedFrame
	}

	m, err := protocol.DecodeText(string(data))
	if err != nil {
		return nil, err
	}

	c.logger.Trace().
		Str("kind", m.Kind().String()).
		Int("bytes", m.Size()).
		Msg("received")
	return m, nil
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
