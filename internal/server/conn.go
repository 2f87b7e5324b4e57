package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/coffersTech/loghell/internal/index"
	"github.com/coffersTech/loghell/internal/model"
	"github.com/rs/zerolog"
)

const (
	// firstReadSize bounds the chunk a connection is classified by.
	firstReadSize = 1024
	// maxFrameSize bounds one ingested line.
	maxFrameSize = 1 << 20
)

// telnetInterrupt is what telnet sends for ctrl+c.
var telnetInterrupt = []byte{255, 244, 255, 253, 6}

var errInvalidUTF8 = errors.New("log line is not valid utf-8")

// Kind is what a connection turned out to be after its first read.
type Kind int

const (
	KindClosed Kind = iota
	KindInterrupt
	KindDashboard
	KindSSE
	KindHealth
	KindCluster
	KindIngest
)

func (k Kind) String() string {
	switch k {
	case KindClosed:
		return "closed"
	case KindInterrupt:
		return "interrupt"
	case KindDashboard:
		return "dashboard"
	case KindSSE:
		return "sse"
	case KindHealth:
		return "health"
	case KindCluster:
		return "cluster"
	default:
		return "ingest"
	}
}

// Classify maps the first chunk read from a connection to its protocol.
// The first matching rule wins.
func Classify(first []byte) Kind {
	switch {
	case len(first) == 0:
		return KindClosed
	case bytes.Equal(first, telnetInterrupt):
		return KindInterrupt
	case bytes.HasPrefix(first, []byte("GET / HTTP/1.1")):
		return KindDashboard
	case bytes.HasPrefix(first, []byte("GET /events HTTP/1.1")),
		bytes.HasPrefix(first, []byte("GET /events?")):
		return KindSSE
	case bytes.HasPrefix(first, []byte("GET /health HTTP/1.1")):
		return KindHealth
	case bytes.HasPrefix(first, []byte("cluster>")):
		return KindCluster
	default:
		return KindIngest
	}
}

type conn struct {
	srv *Server
	nc  net.Conn
	log zerolog.Logger
}

func (c *conn) process(ctx context.Context) error {
	buf := make([]byte, firstReadSize)
	n, err := c.nc.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			c.log.Debug().Msg("connection closed by client")
			return nil
		}
		return err
	}
	first := buf[:n]

	kind := Classify(first)
	c.srv.metrics.ConnectionClassified(kind.String())
	c.log = c.log.With().Stringer("kind", kind).Logger()

	switch kind {
	case KindInterrupt:
		c.log.Debug().Msg("connection closed (ctrl+c by telnet client)")
		return nil
	case KindDashboard:
		return c.serveDashboard()
	case KindHealth:
		return c.serveHealth()
	case KindSSE:
		return c.serveSSE(ctx, first)
	case KindCluster:
		return c.serveCluster(ctx)
	default:
		return c.ingest(ctx, first)
	}
}

func (c *conn) serveDashboard() error {
	d := c.srv.dashboard
	resp := make([]byte, 0, len(d)+64)
	resp = fmt.Appendf(resp, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(d))
	resp = append(resp, d...)
	if _, err := c.nc.Write(resp); err != nil {
		return err
	}
	c.log.Info().Msg("sent dashboard")
	return nil
}

func (c *conn) serveHealth() error {
	_, err := io.WriteString(c.nc, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n")
	return err
}

const sseHeaders = "HTTP/1.1 200 OK\r\n" +
	"Connection: keep-alive\r\n" +
	"Content-Type: text/event-stream\r\n" +
	"Cache-Control: no-cache\r\n" +
	"\r\n" +
	"retry: 10000\n\n"

// serveSSE pushes every entry matching the stream query, polling the
// engine with a moving watermark, until the client goes away.
func (c *conn) serveSSE(ctx context.Context, first []byte) error {
	query := c.srv.sseQuery
	if q := eventsQuery(first); q != "" {
		query = q
	}
	if _, err := io.WriteString(c.nc, sseHeaders); err != nil {
		return err
	}
	if _, err := index.ParseQuery(query); err != nil {
		c.log.Warn().Err(err).Str("query", query).Msg("rejected sse query")
		_, werr := fmt.Fprintf(c.nc, "event: error\ndata: %s\n\n", err)
		return werr
	}
	c.log.Info().Str("query", query).Msg("sse stream started")

	var (
		skip model.Watermark
		buf  []byte
	)
	for {
		logs, next, err := c.srv.engine.Tail(ctx, query, skip)
		if err != nil {
			return err
		}
		skip = next

		buf = buf[:0]
		if len(logs) == 0 {
			// Something must be written on every round to notice a
			// client that went away.
			buf = append(buf, ": check\n\n"...)
		} else {
			buf = append(buf, "event: data\n"...)
			for _, l := range logs {
				buf = append(buf, "data: "...)
				buf = append(buf, l...)
				buf = append(buf, '\n')
			}
			buf = append(buf, '\n')
		}
		if _, err := c.nc.Write(buf); err != nil {
			return err
		}
		if len(logs) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.srv.poll):
		}
	}
}

// eventsQuery extracts the query parameter of a "GET /events?query=..."
// request line.
func eventsQuery(first []byte) string {
	line, _, _ := bytes.Cut(first, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return ""
	}
	u, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("query")
}

// serveCluster forwards every locally stored entry to the peer that
// dialed in. Anything after the link prefix is ignored.
func (c *conn) serveCluster(ctx context.Context) error {
	sub := c.srv.broadcaster.Subscribe()
	defer sub.Close()
	c.log.Info().Msg("cluster link attached")

	// Peers never write after the prefix, so a finished read means the
	// link is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, c.nc)
	}()

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			buf = msg.AppendFrame(buf[:0])
			if _, err := c.nc.Write(buf); err != nil {
				return err
			}
		}
	}
}

// ingest stores every newline terminated frame, starting with the
// already read first chunk, until the client disconnects or interrupts.
func (c *conn) ingest(ctx context.Context, first []byte) error {
	scanner := bufio.NewScanner(io.MultiReader(bytes.NewReader(first), c.nc))
	scanner.Buffer(make([]byte, 0, firstReadSize), maxFrameSize)
	scanner.Split(scanFrames)

	for scanner.Scan() {
		frame := scanner.Bytes()
		if bytes.Equal(frame, telnetInterrupt) {
			c.log.Debug().Msg("connection closed (ctrl+c by telnet client)")
			return nil
		}
		if len(frame) == 0 {
			continue
		}
		if err := c.storeFrame(ctx, frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// storeFrame hands one line to the engine. Malformed lines are logged and
// skipped; any other failure ends the connection.
func (c *conn) storeFrame(ctx context.Context, frame []byte) error {
	if !utf8.Valid(frame) {
		c.log.Warn().Err(errInvalidUTF8).Int("bytes", len(frame)).Msg("skipping log line")
		return nil
	}
	c.log.Debug().Int("bytes", len(frame)).Msg("new data received")

	err := c.srv.engine.Store(ctx, frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, index.ErrDecode):
		c.log.Warn().Err(err).Msg("skipping log line")
		return nil
	default:
		return fmt.Errorf("failed to store log line: %w", err)
	}
}

// scanFrames splits on '\n' like bufio.ScanLines, but keeps '\r' and
// returns a telnet interrupt as its own frame even without a newline.
func scanFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if bytes.HasPrefix(data, telnetInterrupt) {
		return len(telnetInterrupt), data[:len(telnetInterrupt)], nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// isDisconnect reports errors that only mean the peer went away.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
