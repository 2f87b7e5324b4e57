package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/loghell/internal/cluster"
	"github.com/coffersTech/loghell/internal/metrics"
	"github.com/coffersTech/loghell/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the log storage the server reads and writes.
type Engine interface {
	Store(ctx context.Context, entry []byte) error
	Tail(ctx context.Context, query string, skip model.Watermark) ([][]byte, model.Watermark, error)
}

// Options configures a Server.
type Options struct {
	// Dashboard is served for "GET / HTTP/1.1".
	Dashboard []byte
	// SSEQuery is the tail query used when /events has no query parameter.
	SSEQuery string
	// PollInterval is how long an idle SSE stream waits between lookups.
	PollInterval time.Duration
	// Connections counts open connections. It is shared with whoever
	// observes it and may be nil.
	Connections *atomic.Int64

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Server multiplexes every protocol over one TCP listener.
type Server struct {
	engine      Engine
	broadcaster *cluster.Broadcaster

	dashboard []byte
	sseQuery  string
	poll      time.Duration
	conns     *atomic.Int64

	log     zerolog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// New creates a server storing into e and feeding cluster links from b.
func New(e Engine, b *cluster.Broadcaster, opts Options) *Server {
	s := &Server{
		engine:      e,
		broadcaster: b,
		dashboard:   opts.Dashboard,
		sseQuery:    opts.SSEQuery,
		poll:        opts.PollInterval,
		conns:       opts.Connections,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if s.dashboard == nil {
		s.dashboard = defaultDashboard
	}
	if s.sseQuery == "" {
		s.sseQuery = "level:debug"
	}
	if s.poll <= 0 {
		s.poll = time.Second
	}
	if s.conns == nil {
		s.conns = new(atomic.Int64)
	}
	return s
}

// OpenConnections returns the number of currently open connections.
func (s *Server) OpenConnections() int64 {
	return s.conns.Load()
}

// Serve accepts connections on ln until ctx is cancelled or accepting
// fails. It closes ln and returns only after every connection handler
// has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info().Stringer("addr", ln.Addr()).Msg("socket started")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Debug().Msg("terminating accept loop")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.conns.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	c := &conn{
		srv: s,
		nc:  nc,
		log: s.log.With().
			Str("conn_id", uuid.NewString()).
			Stringer("remote", nc.RemoteAddr()).
			Logger(),
	}
	c.log.Debug().Msg("new client")

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer func() {
		stop()
		nc.Close()
		open := s.conns.Add(-1)
		c.log.Debug().Int64("open", open).Msg("connection closed")
	}()

	err := c.process(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil, isDisconnect(err):
		c.log.Debug().Err(err).Msg("client disconnected")
	default:
		c.log.Error().Err(err).Msg("failed to process connection")
	}
}
