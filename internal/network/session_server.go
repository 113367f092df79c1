package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/protocol"
)

// DefaultReadLimit caps an inbound frame. It leaves room for the base64
// expansion of a full-state delta at MaxPayloadSize.
const DefaultReadLimit = 192 << 20

// ErrSessionNotFound is returned by Kick for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// Options configures a SessionServer.
type Options struct {
	// ReadLimit is the largest inbound frame in bytes. Zero means DefaultReadLimit.
	ReadLimit int64
	// WriteTimeout bounds a single outbound frame.
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings; a peer silent for two intervals
	// is dropped. Zero disables keepalive.
	PingInterval time.Duration
	// AllowedOrigins restricts browser upgrades. Empty or "*" allows any.
	AllowedOrigins []string
}

// SessionServer accepts WebSocket clients and relays every message one
// client sends to all the others. It keeps no message history.
type SessionServer struct {
	opts     Options
	registry *ConnectionRegistry
	upgrader websocket.Upgrader
	eventBus *events.EventBus
	logger   zerolog.Logger

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewSessionServer creates a session server with its own registry.
// eventBus may be nil.
func NewSessionServer(opts Options, eventBus *events.EventBus) *SessionServer {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	s := &SessionServer{
		opts:     opts,
		registry: NewConnectionRegistry(),
		eventBus: eventBus,
		logger:   log.With().Str("component", "session_server").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	if eventBus != nil {
		eventBus.Subscribe(events.EventKickSession, "session_server", s.onKickSession)
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		origins[o] = true
	}
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		return origins[origin]
	}
}

// Registry returns the server's connection registry.
func (s *SessionServer) Registry() *ConnectionRegistry {
	return s.registry
}

// Count returns the number of active sessions.
func (s *SessionServer) Count() int {
	return s.registry.Count()
}

// Sessions returns a snapshot of every active session, sorted by id.
func (s *SessionServer) Sessions() []SessionInfo {
	peers := s.registry.All()
	infos := make([]SessionInfo, 0, len(peers))
	for _, p := range peers {
		if conn, ok := p.Sink.(*Connection); ok {
			infos = append(infos, conn.Info(p.ID))
		}
	}
	return infos
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (s *SessionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn := NewConnection(ws, s.opts.WriteTimeout)
	id := s.registry.Add(conn)

	logger := s.logger.With().
		Uint64("session_id", id).
		Str("remote", conn.RemoteAddr()).
		Logger()
	logger.Info().Msg("session opened")

	ctx := r.Context()
	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventSessionOpened,
		Source: "session_server",
		Payload: events.SessionOpenedPayload{
			SessionID:  id,
			RemoteAddr: conn.RemoteAddr(),
			OpenedAt:   conn.OpenedAt(),
		},
	})

	if s.shuttingDown.Load() {
		conn.markClosing(events.CloseReasonShutdown)
		conn.Close()
	}

	s.readLoop(ctx, id, conn, logger)
	s.closeSession(ctx, id, conn, logger)
}

// readLoop drives the Active state. It returns once the session must close
// and records the reason on conn.
func (s *SessionServer) readLoop(ctx context.Context, id uint64, conn *Connection, logger zerolog.Logger) {
	ws := conn.ws
	ws.SetReadLimit(s.opts.ReadLimit)

	if s.opts.PingInterval > 0 {
		wait := 2 * s.opts.PingInterval
		ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})

		stop := make(chan struct{})
		defer close(stop)
		go s.keepalive(conn, stop, logger)
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				conn.markClosing(events.CloseReasonPeerClosed)
			} else {
				if !conn.IsClosed() {
					logger.Debug().Err(err).Msg("read error")
				}
				conn.markClosing(events.CloseReasonReadError)
			}
			return
		}

		conn.recordInbound(len(data))
		if s.opts.PingInterval > 0 {
			ws.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		}

		if messageType != websocket.TextMessage {
			logger.Warn().Int("frame_type", messageType).Msg("non-text frame, closing session")
			conn.markClosing(events.CloseReasonNonText)
			return
		}

		msg, err := protocol.DecodeText(string(data))
		if err != nil {
			kind := "unknown"
			var encErr *protocol.EncodingError
			if errors.As(err, &encErr) {
				kind = encErr.Kind.String()
			}
			logger.Warn().Err(err).Str("error_kind", kind).Msg("failed to decode message, closing session")
			s.eventBus.Emit(ctx, events.Event{
				Type:   events.EventDecodeFailed,
				Source: "session_server",
				Payload: events.DecodeFailedPayload{
					SessionID: id,
					ErrorKind: kind,
					Error:     err.Error(),
				},
			})
			conn.markClosing(events.CloseReasonDecodeError)
			return
		}

		s.Broadcast(ctx, id, msg)
	}
}

func (s *SessionServer) keepalive(conn *Connection, stop <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// closeSession drives Closing to Closed: deregister, close, report.
func (s *SessionServer) closeSession(ctx context.Context, id uint64, conn *Connection, logger zerolog.Logger) {
	s.registry.Remove(id)
	if err := conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("socket close failed")
	}

	info := conn.Info(id)
	reason := conn.Reason()

	logger.Info().
		Str("reason", reason.String()).
		Uint64("frames_in", info.FramesIn).
		Uint64("bytes_in", info.BytesIn).
		Uint64("frames_out", info.FramesOut).
		Uint64("send_failures", info.SendFailures).
		Msg("session closed")

	s.eventBus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:   events.EventSessionClosed,
		Source: "session_server",
		Payload: events.SessionClosedPayload{
			SessionID:    id,
			RemoteAddr:   info.RemoteAddr,
			OpenedAt:     info.OpenedAt,
			ClosedAt:     time.Now(),
			Reason:       reason,
			FramesIn:     info.FramesIn,
			BytesIn:      info.BytesIn,
			FramesOut:    info.FramesOut,
			SendFailures: info.SendFailures,
		},
	})
}

// Broadcast encodes msg once and sends it to every registered session
// except sender. A failed send is logged and counted; it never stops the
// fan-out. Returns the number of peers reached and the number that failed.
func (s *SessionServer) Broadcast(ctx context.Context, sender uint64, msg protocol.Message) (delivered, failed int) {
	text := protocol.EncodeText(msg)
	peers := s.registry.Peers(sender)

	for _, p := range peers {
		if err := p.Sink.Send(text); err != nil {
			failed++
			s.logger.Warn().
				Err(err).
				Uint64("session_id", sender).
				Uint64("peer_id", p.ID).
				Str("kind", msg.Kind().String()).
				Msg("failed to relay message")
			continue
		}
		delivered++
	}

	s.logger.Debug().
		Uint64("session_id", sender).
		Str("kind", msg.Kind().String()).
		Int("bytes", len(text)).
		Int("recipients", delivered).
		Int("failures", failed).
		Msg("message relayed")

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventMessageRelayed,
		Source: "session_server",
		Payload: events.MessageRelayedPayload{
			SenderID:   sender,
			Kind:       msg.Kind().String(),
			Bytes:      len(text),
			Recipients: delivered,
			Failures:   failed,
		},
	})
	return delivered, failed
}

// Kick closes the session registered under id. Its read loop then runs the
// normal closing path.
func (s *SessionServer) Kick(id uint64) error {
	sink, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("kick %d: %w", id, ErrSessionNotFound)
	}
	if conn, ok := sink.(*Connection); ok {
		conn.markClosing(events.CloseReasonKicked)
	}
	s.logger.Info().Uint64("session_id", id).Msg("kicking session")
	return sink.Close()
}

func (s *SessionServer) onKickSession(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.KickSessionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return s.Kick(payload.SessionID)
}

// Shutdown closes every session and waits for their read loops to finish
// or for ctx to expire.
func (s *SessionServer) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	for _, p := range s.registry.All() {
		if conn, ok := p.Sink.(*Connection); ok {
			conn.markClosing(events.CloseReasonShutdown)
		}
		if err := p.Sink.Close(); err != nil {
			s.logger.Debug().Err(err).Uint64("session_id", p.ID).Msg("close failed")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("session server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session server shutdown: %w", ctx.Err())
	}
}
