// Package loghell ships log lines to a loghell server.
//
// Writer is an io.Writer meant to sit behind a structured logger:
//
//	w := loghell.NewWriter(loghell.Options{Addr: "127.0.0.1:6669"})
//	defer w.Close()
//	log := zerolog.New(w).With().Timestamp().Logger()
//
// Each Write must hold exactly one JSON object. Lines are queued and sent
// in the background; a full queue drops lines instead of blocking.
package loghell

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("loghell: writer closed")

type Options struct {
	// Addr is the server's socket address.
	Addr string
	// QueueSize bounds how many lines wait for delivery. Default 10000.
	QueueSize int
	// BatchSize triggers a send before FlushInterval. Default 100.
	BatchSize int
	// FlushInterval is the longest a line waits in memory. Default 1s.
	FlushInterval time.Duration
	// RetryInterval is the pause after a failed dial. Default 1s.
	RetryInterval time.Duration
	// Timeout bounds each dial and write. Default 5s.
	Timeout time.Duration
	// ErrorLog receives delivery problems. Default os.Stderr.
	ErrorLog io.Writer
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.ErrorLog == nil {
		o.ErrorLog = os.Stderr
	}
}

// Writer delivers lines over one TCP connection, reconnecting when it
// breaks. Delivery is at least once: a batch interrupted by a broken
// connection is sent again in full.
type Writer struct {
	opts    Options
	queue   chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
	err     error

	// owned by runLoop
	conn     net.Conn
	pending  [][]byte
	nextDial time.Time
}

// NewWriter starts a writer for opts.Addr. It does not wait for the
// server to be reachable.
func NewWriter(opts Options) *Writer {
	opts.setDefaults()
	w := &Writer{
		opts:  opts,
		queue: make(chan []byte, opts.QueueSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.runLoop()
	return w
}

// Write queues one log line. p is copied and a trailing newline added
// when missing.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	line := make([]byte, len(p), len(p)+1)
	copy(line, p)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	select {
	case w.queue <- line:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns how many lines were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close sends whatever is still queued, making one last connection
// attempt if needed, and stops the writer.
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
	return w.err
}

func (w *Writer) runLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case line := <-w.queue:
			w.add(line)
			if len(w.pending) >= w.opts.BatchSize {
				w.flush()
			}
		case <-ticker.C:
			w.flush()
		case <-w.done:
			for {
				select {
				case line := <-w.queue:
					w.add(line)
				default:
					w.nextDial = time.Time{}
					w.flush()
					if n := len(w.pending); n > 0 {
						w.err = fmt.Errorf("loghell: %d lines not delivered", n)
					}
					if w.conn != nil {
						w.conn.Close()
					}
					return
				}
			}
		}
	}
}

// add appends to pending, discarding the oldest line once pending holds
// QueueSize lines.
func (w *Writer) add(line []byte) {
	if len(w.pending) >= w.opts.QueueSize {
		w.pending = w.pending[1:]
		w.dropped.Add(1)
	}
	w.pending = append(w.pending, line)
}

func (w *Writer) flush() {
	if len(w.pending) == 0 {
		return
	}
	if w.conn == nil {
		if time.Now().Before(w.nextDial) {
			return
		}
		conn, err := net.DialTimeout("tcp", w.opts.Addr, w.opts.Timeout)
		if err != nil {
			w.nextDial = time.Now().Add(w.opts.RetryInterval)
			fmt.Fprintf(w.opts.ErrorLog, "loghell: failed to connect to %s: %v\n", w.opts.Addr, err)
			return
		}
		w.conn = conn
	}

	w.conn.SetWriteDeadline(time.Now().Add(w.opts.Timeout))
	bufs := make(net.Buffers, len(w.pending))
	copy(bufs, w.pending)
	if _, err := bufs.WriteTo(w.conn); err != nil {
		fmt.Fprintf(w.opts.ErrorLog, "loghell: failed to send %d lines: %v\n", len(w.pending), err)
		w.conn.Close()
		w.conn = nil
		return
	}
	w.pending = w.pending[:0]
}
