package bridge

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/orchestrator"
)

// Server relays commands from WebSocket clients to Commands and pushes
// notifications back to them.
type Server struct {
	cmds   Commands
	cfg    config
	logger *logging.Logger

	clients  *semaphore
	inflight *semaphore

	mu    sync.RWMutex
	conns map[*client]struct{}
}

// client is one connected front end.
type client struct {
	conn   *websocket.Conn
	out    chan any
	cancel context.CancelFunc
	remote string
}

// New creates a Server. cmds must be non-nil.
func New(cmds Commands, opts ...Option) *Server {
	if cmds == nil {
		panic("bridge: Commands must not be nil")
	}

	cfg := config{
		addr:         defaultAddr,
		queueSize:    defaultQueueSize,
		maxClients:   defaultMaxClients,
		maxInFlight:  defaultMaxInFlight,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = defaultQueueSize
	}
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = defaultWriteTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	return &Server{
		cmds:     cmds,
		cfg:      cfg,
		logger:   cfg.logger.WithPhase("bridge"),
		clients:  newSemaphore(cfg.maxClients),
		inflight: newSemaphore(cfg.maxInFlight),
		conns:    make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler serving /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.cfg.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then closes every client
// connection and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("bridge listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge: serve: %w", err)
	case <-ctx.Done():
	}

	s.closeAll(websocket.StatusGoingAway, "server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.writeTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	s.logger.Info("bridge stopped")
	return nil
}

// Notify implements orchestrator.Sink. The notification is queued for every
// connected client; clients whose queue is full miss it.
func (s *Server) Notify(n orchestrator.Notification) {
	push := newPush(n)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		select {
		case c.out <- push:
		default:
			s.logger.WithUser(n.UserID).Warn("dropping notification for slow client",
				"remote", c.remote,
				"kind", n.Kind,
			)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("rejected unauthenticated client", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.clients.TryAcquire() {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	defer s.clients.Release()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		conn:   conn,
		out:    make(chan any, s.cfg.queueSize),
		cancel: cancel,
		remote: r.RemoteAddr,
	}
	s.register(c)
	logger := s.logger.With("remote", c.remote)
	logger.Info("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, c)
	}()

	s.readLoop(ctx, c, &wg)

	cancel()
	wg.Wait()
	s.unregister(c)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	logger.Info("client disconnected")
}

// readLoop reads command frames until the connection fails or ctx ends.
// Each command runs in its own goroutine tracked by wg.
func (s *Server) readLoop(ctx context.Context, c *client, wg *sync.WaitGroup) {
	for {
		var req Request
		if err := wsjson.Read(ctx, c.conn, &req); err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway, ctx.Err() != nil:
				s.logger.Debug("client closed", "remote", c.remote, "status", status.String())
			default:
				s.logger.Warn("read failed", "remote", c.remote, "error", err)
			}
			return
		}

		if err := s.inflight.Acquire(ctx); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.inflight.Release()
			reply := s.dispatch(ctx, req)
			select {
			case c.out <- reply:
			case <-ctx.Done():
			}
		}()
	}
}

// writeLoop writes queued frames until ctx ends or a write fails.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				s.logger.Warn("write failed", "remote", c.remote, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// dispatch runs one command and builds its reply.
func (s *Server) dispatch(ctx context.Context, req Request) Reply {
	if needsUser(req.Op) && req.UserID <= 0 {
		return Reply{ID: req.ID, Type: TypeReply, Message: "user_id is required"}
	}

	var out orchestrator.Outcome
	switch req.Op {
	case OpRegisterStart:
		out = s.cmds.RegisterStart(ctx, req.UserID, req.APIID, req.APIHash)
	case OpRegisterContact:
		out = s.cmds.RegisterContact(ctx, req.UserID, req.AssertedID, req.Phone)
	case OpSubmitText:
		out = s.cmds.SubmitText(ctx, req.UserID, req.Text)
	case OpStop:
		out = s.cmds.Stop(req.UserID)
	case OpStopAll:
		out = s.cmds.StopAll()
	case OpStartAll:
		out = s.cmds.StartAll(ctx)
	case OpRestartAll:
		out = s.cmds.RestartAll()
	case OpStatus:
		out = s.cmds.Status(req.UserID)
	default:
		return Reply{ID: req.ID, Type: TypeReply, Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
	return newReply(req.ID, out)
}

func needsUser(op string) bool {
	switch op {
	case OpRegisterStart, OpRegisterContact, OpSubmitText, OpStop, OpStatus:
		return true
	}
	return false
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.token == "" {
		return true
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.token)) == 1
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAll(code websocket.StatusCode, reason string) {
	s.mu.RLock()
	conns := make([]*client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.conn.Close(code, reason)
		c.cancel()
	}
}

var _ orchestrator.Sink = (*Server)(nil)
