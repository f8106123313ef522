// Package transport wires the WebSocket/HTTP surface spec.md §6 describes
// onto a dispatch.Core: one /ws upgrade endpoint carrying wire-codec text
// frames for commands/chat/control verbs and raw binary frames for video
// and audio payloads, plus a small status surface for operators.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rustyguts/letsplay/internal/user"
)

const (
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	// pingPeriod stays well under the dispatch core's heartbeat timeout
	// (3s by default): each answered ping refreshes the user's LastPong,
	// which the disconnect sweep checks.
	pingPeriod   = time.Second
	maxFrameSize = 1 << 20
)

// Dispatcher is the subset of dispatch.Core the transport layer drives.
// Kept as an interface so this package never imports dispatch directly,
// matching spec.md §4.4's layering (dispatch never imports transport,
// transport depends on dispatch only through Sender+this interface).
type Dispatcher interface {
	OnConnect(h user.Handle)
	OnMessage(h user.Handle, frame string)
	OnDisconnect(h user.Handle)
	Pong(h user.Handle)
}

// Server owns the Echo application and the live connection table. It
// implements dispatch.Sender.
type Server struct {
	echo   *echo.Echo
	disp   Dispatcher
	log    *slog.Logger
	upgrad websocket.Upgrader

	mu    sync.RWMutex
	conns map[user.Handle]*websocket.Conn
}

// New constructs a Server. disp may be nil at construction time (the
// dispatch core often needs this Server's Send/Close as its own Sender
// before it exists) as long as SetDispatcher is called before Run.
func New(disp Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	s := &Server{
		echo: e,
		disp: disp,
		log:  log,
		upgrad: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(map[user.Handle]*websocket.Conn),
	}
	s.registerRoutes()
	return s
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			path := c.Request().URL.Path
			if path == "/ws" {
				log.Debug("http request", "path", path, "status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds())
			} else {
				log.Info("http request", "path", path, "status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(), "remote", c.RealIP())
			}
			return nil
		}
	}
}

// SetDispatcher installs the dispatch core this server delivers frames to.
func (s *Server) SetDispatcher(disp Dispatcher) {
	s.disp = disp
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/status", s.handleStatus)
}

type statusResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.RLock()
	n := len(s.conns)
	s.mu.RUnlock()
	return c.JSON(http.StatusOK, statusResponse{Status: "ok", Connections: n})
}

// handleWebSocket upgrades one request and serves frames until disconnect,
// per spec.md §6's "one persistent full-duplex WebSocket connection per
// client" line.
func (s *Server) handleWebSocket(c echo.Context) error {
	remote := c.RealIP()
	conn, err := s.upgrad.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("ws upgrade failed", "remote", remote, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h := user.Handle(uuid.New().String())
	s.register(h, conn)
	s.log.Info("ws connected", "handle", h, "remote", remote)
	s.disp.OnConnect(h)

	defer func() {
		s.unregister(h)
		s.disp.OnDisconnect(h)
		s.log.Info("ws disconnected", "handle", h, "remote", remote)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.disp.Pong(h)
		return nil
	})

	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing)
	defer close(stopPing)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("ws unexpected close", "handle", h, "err", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.disp.OnMessage(h, string(data))
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) register(h user.Handle, conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[h] = conn
	s.mu.Unlock()
}

func (s *Server) unregister(h user.Handle) {
	s.mu.Lock()
	conn, ok := s.conns[h]
	delete(s.conns, h)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Send implements dispatch.Sender.
func (s *Server) Send(h user.Handle, payload string) error {
	s.mu.RLock()
	conn, ok := s.conns[h]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no connection for handle %s", h)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// SendBinary implements dispatch.Sender. Frame and audio payloads travel
// outside the wire chunk codec as raw WebSocket binary frames: the codec's
// MaxChunkLen cap is sized for chat-sized text, and a binary payload sent as
// a text frame would violate the WebSocket text-frame UTF-8 requirement.
func (s *Server) SendBinary(h user.Handle, payload []byte) error {
	s.mu.RLock()
	conn, ok := s.conns[h]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no connection for handle %s", h)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Close implements dispatch.Sender.
func (s *Server) Close(h user.Handle) {
	s.unregister(h)
}

// SetTLSConfig installs a TLS config (e.g. from tlsutil.GenerateConfig) so
// Run serves HTTPS/WSS instead of plaintext.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.echo.TLSServer.TLSConfig = cfg
}

// Run starts the HTTP(S) server and blocks until ctx is canceled or startup
// fails. Serves over TLS when SetTLSConfig was called, plaintext otherwise.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.echo.TLSServer.TLSConfig != nil {
			s.echo.TLSServer.Addr = addr
			err = s.echo.StartServer(s.echo.TLSServer)
		} else {
			err = s.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
