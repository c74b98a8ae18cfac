// Package server exposes the hub over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MswTester/sendrop/config"
	"github.com/MswTester/sendrop/core"
	"github.com/MswTester/sendrop/discovery"
	"github.com/MswTester/sendrop/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      config.HubConfig
	hub      *core.Hub
	log      logger.Logger
	upgrader websocket.Upgrader

	lanAddr   func() (net.IP, error)
	advertise func(ctx context.Context, cfg discovery.Config) error

	boundPort atomic.Int64

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func New(cfg config.HubConfig, hub *core.Hub, log logger.Logger) *Server {
	return &Server{
		cfg: cfg,
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// Every device on the LAN is welcome, whatever page it came from.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		lanAddr:   LANAddress,
		advertise: discovery.Advertise,
		conns:     make(map[*Conn]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc(config.WSPath, s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.Assets)))

	return r
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}

	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.boundPort.Store(int64(tcp.Port))
	}

	ln = netutil.LimitListener(ln, s.cfg.MaxConns)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithStr("addr", ln.Addr().String()).Info("hub listening")

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		s.closeConns()
		s.hub.Close()

		s.log.Info("hub stopped")
		return err
	})

	if s.cfg.MDNS {
		g.Go(func() error {
			err := s.advertise(gctx, discovery.Config{
				Instance: s.cfg.Name,
				Port:     s.port(),
				Path:     config.WSPath,
			})
			if err != nil {
				// The hub is still reachable by address or QR code.
				s.log.WithErr(err).Warn("mDNS advertisement failed")
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithErr(err).Warn("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := newConn(id, ws, s.cfg.Queue, s.cfg.StallTimeout, s.log)

	s.track(c)
	defer s.untrack(c)

	go c.writePump()

	if _, err := s.hub.Connect(id, r.UserAgent(), remoteIP(r), c); err != nil {
		s.log.WithStr("device", id).WithErr(err).Warn("device rejected")
		c.Close()
		return
	}

	c.readPump(s.hub, s.cfg.MaxMessage)
}

type health struct {
	Status  string `json:"status"`
	Devices int    `json:"devices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Devices: s.hub.Devices()})
}

func (s *Server) port() int {
	if p := s.boundPort.Load(); p > 0 {
		return int(p)
	}
	return s.cfg.Port
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// closeConns closes hijacked websockets, which http.Server.Shutdown ignores.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.conns {
		c.Close()
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return strings.TrimPrefix(host, "::ffff:")
}
