package cluster

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/loghell/internal/metrics"
	"github.com/rs/zerolog"
)

// Sink accepts entries received from peers. Implementations must not
// re-broadcast them.
type Sink interface {
	Replicate(ctx context.Context, entry []byte) error
}

// ParsePeers splits a comma separated address list, dropping blanks.
func ParsePeers(addrs string) []string {
	var peers []string
	for _, addr := range strings.Split(addrs, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			peers = append(peers, addr)
		}
	}
	return peers
}

// Replicator follows a static set of peers: it dials each one, identifies
// the link with LinkPrefix and feeds every received entry into the sink.
type Replicator struct {
	Peers []string
	sink  Sink

	// Dial backoff, doubling from MinBackoff up to MaxBackoff.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	dialer  net.Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewReplicator creates a replicator for peers.
func NewReplicator(peers []string, sink Sink, log zerolog.Logger, m *metrics.Metrics) *Replicator {
	return &Replicator{
		Peers:      peers,
		sink:       sink,
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		dialer:     net.Dialer{Timeout: 5 * time.Second},
		log:        log,
		metrics:    m,
	}
}

// Run follows every peer until ctx is cancelled or all peer streams have
// ended. One peer failing never affects the others.
func (r *Replicator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, addr := range r.Peers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			log := r.log.With().Str("peer", addr).Logger()
			if err := r.follow(ctx, addr, log); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to listen stream")
				return
			}
			log.Debug().Msg("connection stopped")
		}(addr)
	}
	wg.Wait()
	return nil
}

func (r *Replicator) follow(ctx context.Context, addr string, log zerolog.Logger) error {
	conn, err := r.dial(ctx, addr, log)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	r.metrics.PeerLinked(true)
	defer r.metrics.PeerLinked(false)

	if _, err := io.WriteString(conn, LinkPrefix); err != nil {
		return err
	}
	log.Info().Msg("cluster link established")

	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadBytes('\n')
		if err == nil {
			r.handleFrame(ctx, frame, log)
			continue
		}
		if err == io.EOF {
			// A trailing partial frame is incomplete and dropped.
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func (r *Replicator) handleFrame(ctx context.Context, frame []byte, log zerolog.Logger) {
	msg, err := DecodeFrame(frame)
	if err != nil {
		log.Error().Err(err).Msg("skipping cluster frame")
		return
	}
	switch msg.Type {
	case TypeNewLog:
		if err := r.sink.Replicate(ctx, msg.Payload); err != nil {
			log.Warn().Err(err).Msg("failed to store replicated entry")
			return
		}
		r.metrics.EntryReplicated()
	}
}

// dial retries with backoff until the peer accepts or ctx is done. Peers
// usually start at about the same time, so the first attempts can fail.
func (r *Replicator) dial(ctx context.Context, addr string, log zerolog.Logger) (net.Conn, error) {
	backoff := r.MinBackoff
	for {
		conn, err := r.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Dur("retry_in", backoff).Msg("failed to dial peer")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}
}
