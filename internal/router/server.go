package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/die-net/autoproxy/internal/metrics"
)

// Server accepts redirected connections and routes each one on its own
// goroutine. There is no limit on concurrent connections.
type Server struct {
	ctx    context.Context
	router *Router
	log    *slog.Logger
}

func NewServer(ctx context.Context, r *Router, log *slog.Logger) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{ctx: ctx, router: r, log: log}
}

// Serve accepts connections on ln until ln is closed. It returns nil if the
// Server's context was canceled.
func (s *Server) Serve(ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			// Typically out of file descriptors; back off and retry.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Error("accept failed", "error", err, "retry", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	start := time.Now()
	client := c.RemoteAddr().String()

	res, err := s.router.Route(s.ctx, c)

	result := "ok"
	var rerr *Error
	if errors.As(err, &rerr) {
		result = rerr.Stage.String()
	} else if err != nil {
		result = "error"
	}
	metrics.RecordConnection(res.Path.String(), result, res.Stats.ClientToUpstream, res.Stats.UpstreamToClient)

	attrs := []any{
		"client", client,
		"path", res.Path,
		"sent", res.Stats.ClientToUpstream,
		"received", res.Stats.UpstreamToClient,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if res.Dst.IsValid() {
		attrs = append(attrs, "dst", res.Dst)
	}

	if err != nil {
		s.log.Warn("connection failed", append(attrs, "error", err)...)
		return
	}
	s.log.Info("connection complete", attrs...)
}
