// Package dashboard serves sync status to UI clients over WebSocket.
//
// Every finished pass is broadcast as a sync_pass message. Account switches
// produce account_reset, and a failure streak at the configured threshold
// produces not_syncing. New clients receive a status message describing the
// local store.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeSyncPass reports a finished pass.
	MessageTypeSyncPass MessageType = "sync_pass"

	// MessageTypeAccountReset reports an account switch.
	MessageTypeAccountReset MessageType = "account_reset"

	// MessageTypeNotSyncing reports that passes keep failing.
	MessageTypeNotSyncing MessageType = "not_syncing"

	// MessageTypeStatus describes the local store.
	MessageTypeStatus MessageType = "status"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on. Port 0 picks a free port.
	Addr string

	// AllowedOrigins for browser clients.
	AllowedOrigins []string

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7717",
		AllowedOrigins: []string{"*"},
		Logger:         zerolog.Nop(),
	}
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	cfg    Config
	ln     net.Listener
	http   *http.Server
	logger zerolog.Logger

	mu    sync.RWMutex
	peers map[*peer]struct{}

	queue chan Message

	// welcome builds the first message sent to a new client. May be nil.
	welcome func(ctx context.Context) (Message, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peer is one connected client. Its writer drains out so a slow client
// never holds up the others.
type peer struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

const (
	peerBuffer   = 16
	writeTimeout = 5 * time.Second
)

// NewServer creates a dashboard server.
func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "dashboard").Logger(),
		peers:  make(map[*peer]struct{}),
		queue:  make(chan Message, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the HTTP server and the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	routes := http.NewServeMux()
	routes.HandleFunc("GET /ws", s.handleWebSocket)
	routes.HandleFunc("GET /health", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})
	s.http = &http.Server{
		Handler:           c.Handler(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("dashboard server failed")
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()
	for p := range peers {
		p.close(websocket.StatusGoingAway, "server shutting down")
	}

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
	}
	s.wg.Wait()
	s.logger.Info().Msg("dashboard stopped")
	return nil
}

// Broadcast queues msg for every client. It drops the message when the queue
// is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn().Str("type", string(msg.Type)).Msg("broadcast queue full, dropping message")
	}
}

// fanOut encodes each queued message once and hands it to every peer.
// A peer whose buffer is full is disconnected.
func (s *Server) fanOut() {
	defer s.wg.Done()

	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.queue:
		}

		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		frame, err := json.Marshal(msg)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to encode message")
			continue
		}

		var slow []*peer
		s.mu.RLock()
		for p := range s.peers {
			select {
			case p.out <- frame:
			default:
				slow = append(slow, p)
			}
		}
		s.mu.RUnlock()

		for _, p := range slow {
			s.logger.Debug().Msg("client too slow, disconnecting")
			s.drop(p, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	p := &peer{conn: conn, out: make(chan []byte, peerBuffer)}

	// The status message goes first so it precedes any broadcast.
	if s.welcome != nil {
		if msg, err := s.welcome(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to build status message")
		} else if frame, err := json.Marshal(msg); err == nil {
			p.out <- frame
		}
	}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	n := len(s.peers)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("client connected")

	go s.write(p)
	go s.watch(p)
}

// write sends queued frames to one client.
func (s *Server) write(p *peer) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-p.out:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := p.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.drop(p, websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// watch reads until the client goes away; clients send nothing.
func (s *Server) watch(p *peer) {
	for {
		if _, _, err := p.conn.Read(s.ctx); err != nil {
			s.drop(p, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) drop(p *peer, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	n := len(s.peers)
	s.mu.Unlock()

	if ok {
		p.close(code, reason)
		s.logger.Debug().Int("clients", n).Msg("client disconnected")
	}
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.out)
		_ = p.conn.Close(code, reason)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
