// Package server implements the battleship TCP server: an accept loop
// feeding a single lobby goroutine that authenticates users and routes
// them into games, plus one worker goroutine per running game. Shared
// state lives in two id registries; sessions move between goroutines by
// channel hand-off, never by shared mutation.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/valerioisufi/battleship-SO-project/internal/config"
	"github.com/valerioisufi/battleship-SO-project/internal/metrics"
)

// Server owns the listener and the shared registries.
type Server struct {
	cfg config.Server
	reg *Registries

	listener net.Listener
	mu       sync.Mutex
}

func New(cfg config.Server) *Server {
	return &Server{
		cfg: cfg,
		reg: NewRegistries(),
	}
}

// Addr returns the listen address, or nil before Run has bound one.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on cfg.BindAddress:cfg.Port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener and blocks until the
// lobby and every game worker have exited. Tests use it directly with a
// listener on an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	lb := newLobby(s.cfg, s.reg)

	var wg sync.WaitGroup
	wg.Go(func() {
		lb.run(ctx, &wg)
	})
	wg.Go(func() {
		slog.Info("battleship server started", "address", ln.Addr())
		acceptLoop(ctx, lb, ln)
	})

	wg.Wait()

	return nil
}

func acceptLoop(ctx context.Context, lb *lobby, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept new connection", "error", err)
				continue
			}

			// Enable TCP keepalive (detect dead connections)
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if err := tcpConn.SetKeepAlive(true); err != nil {
					slog.Warn("set keepalive failed", "error", err)
				}
				if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
					slog.Warn("set keepalive period failed", "error", err)
				}
			}

			metrics.ConnectionsAccepted.Inc()
			select {
			case lb.accepted <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}
}
