package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hidesapp/hides-signal/internal/broker"
	"github.com/hidesapp/hides-signal/internal/metrics"
	"github.com/hidesapp/hides-signal/internal/origin"
	"github.com/hidesapp/hides-signal/internal/ratelimit"
)

// Banner is the plain-text body served to non-WebSocket requests on "/".
const Banner = "hides-signal running"

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Broker  *broker.Broker
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is checked against the Origin header on upgrade. Empty
	// means same-host only. Requests without an Origin header are accepted.
	AllowedOrigins []string

	// WebSocket keepalive. A connection that sends nothing (pongs included)
	// for IdleTimeout is closed; the server pings every PingInterval.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueue is the per-connection outbound buffer, in messages.
	SendQueue int

	// Clock drives the inbound rate limiter. Defaults to the wall clock.
	Clock ratelimit.Clock
}

// Server upgrades HTTP requests to WebSockets and attaches them to a broker.
//
// Endpoints:
//   - GET /ws : WebSocket signaling
//   - GET /   : WebSocket signaling, or a plain banner for non-upgrade requests
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	peers  map[*wsPeer]struct{}
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		peers: make(map[*wsPeer]struct{}),
	}
	policy := origin.Policy{Allowed: cfg.AllowedOrigins}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			header := strings.TrimSpace(r.Header.Get("Origin"))
			if header == "" {
				return true
			}
			_, ok := policy.Check(header, r.Host)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.IdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval <= 0 {
		return 20 * time.Second
	}
	return s.cfg.PingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxMessageBytes
}

func (s *Server) sendQueue() int {
	if s.cfg.SendQueue <= 0 {
		return 256
	}
	return s.cfg.SendQueue
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, Banner)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Broker == nil {
		http.Error(w, "broker not configured", http.StatusInternalServerError)
		return
	}
	if s.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	peer := newWSPeer(conn, s.sendQueue())
	if !s.track(peer) {
		peer.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(peer)

	peer.startWriter(s.pingInterval())

	id, err := s.cfg.Broker.Connect(peer)
	if err != nil {
		peer.shutdown()
		peer.wait()
		if errors.Is(err, broker.ErrTooManyConnections) {
			s.log.Warn("websocket rejected", "remote_addr", r.RemoteAddr, "err", err)
			peer.closeWith(websocket.CloseTryAgainLater, "too many connections")
		} else {
			s.log.Error("websocket registration failed", "remote_addr", r.RemoteAddr, "err", err)
			peer.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		_ = conn.Close()
		return
	}

	log := s.log.With("conn_id", id)
	log.Info("websocket connected", "remote_addr", r.RemoteAddr)

	reason := s.readLoop(peer, id)

	peer.shutdown()
	s.cfg.Broker.Disconnect(id)
	peer.wait()
	_ = conn.Close()

	log.Info("websocket disconnected", "reason", reason)
}

// readLoop delivers inbound frames until the socket fails and returns a short
// description of why it stopped.
func (s *Server) readLoop(peer *wsPeer, id broker.ConnID) string {
	conn := peer.conn
	idle := s.idleTimeout()
	limiter := ratelimit.NewMessageLimiter(s.cfg.Clock, s.cfg.MaxMessagesPerSecond)

	conn.SetReadLimit(s.maxMessageBytes())
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				peer.closeWith(websocket.CloseNormalClosure, "idle timeout")
				return "idle timeout"
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla/websocket has already sent CloseMessageTooBig.
				return "message too large"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "closed by client"
			default:
				return "read error"
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		// The message is read before the limiter is consulted so the socket
		// keeps draining while excess messages are discarded.
		if !limiter.Allow() {
			s.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			continue
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.Inc(metrics.DropReasonBinaryFrame)
			continue
		}
		s.cfg.Broker.Deliver(id, data)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(p *wsPeer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(p *wsPeer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	s.wg.Done()
}

// Close sends a going-away close frame to every open WebSocket and closes it.
// Each connection's handler then unregisters it from the broker. New upgrades
// are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*wsPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = p.conn.Close()
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Shutdown closes every WebSocket like Close and waits until their handlers
// have unregistered from the broker or ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
