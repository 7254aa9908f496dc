package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/logging"
)

const (
	DefaultPushInterval = 5 * time.Second

	idleTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	maxMessageBytes = 4096
)

// Provider returns the current state of the run.
type Provider func() Snapshot

type Config struct {
	Address      string
	PushInterval time.Duration
}

// Server serves the run's status at /status and pushes it to /ws watchers.
type Server struct {
	provider Provider
	hub      *Hub
	addr     string
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewServer(provider Provider, cfg Config, logger *slog.Logger) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultPushInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		provider: provider,
		hub:      NewHub(),
		addr:     cfg.Address,
		interval: cfg.PushInterval,
		logger:   logger.With("component", "status"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Watchers is the number of connected websocket clients.
func (s *Server) Watchers() int {
	return s.hub.Count()
}

// Push sends the current snapshot to every watcher.
func (s *Server) Push() {
	env, err := s.statusEnvelope(TypeStatus)
	if err != nil {
		s.logger.Error("failed to build status envelope", "error", err)
		return
	}
	s.hub.Broadcast(env)
}

// Run listens on the configured address and pushes a snapshot every
// interval until the exit event is set or ctx ends. Watchers get one last
// snapshot before the server shuts down.
func (s *Server) Run(ctx context.Context, exit *exitevent.Event) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, exit)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener, exit *exitevent.Event) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("status feed listening", "addr", ln.Addr().String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			s.Push()
		case <-exit.Done():
			return s.shutdown(ctx, srv)
		case <-ctx.Done():
			return s.shutdown(ctx, srv)
		}
	}
}

func (s *Server) shutdown(ctx context.Context, srv *http.Server) error {
	s.Push()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not closed by Shutdown.
	err := srv.Shutdown(shutdownCtx)
	_ = srv.Close()
	s.logger.Info("status feed stopped")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.provider())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	var writeMu sync.Mutex
	send := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(env)
	}

	hello, err := s.statusEnvelope(TypeHello)
	if err != nil {
		s.logger.Error("failed to build hello envelope", "error", err)
		return
	}
	if err := send(hello); err != nil {
		return
	}

	connID := NewMsgID()
	remove := s.hub.Add(connID, send)
	defer remove()
	s.logger.Info("watcher connected", "conn_id", connID, "remote", r.RemoteAddr)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
			}
		}
	}()

	// Watchers never send anything meaningful; reading keeps control frames
	// flowing and notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("watcher read failed", "conn_id", connID, "error", err)
			}
			break
		}
	}
	s.logger.Info("watcher disconnected", "conn_id", connID)
}

func (s *Server) statusEnvelope(msgType string) (Envelope, error) {
	snap := s.provider()
	env, err := NewEnvelope(msgType, snap)
	if err != nil {
		return Envelope{}, err
	}
	env.RunID = snap.RunID
	return env, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
