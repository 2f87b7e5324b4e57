package loghell

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect accepts connections on ln and returns every line received.
func collect(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	lines := make(chan string, 100)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()
		}
	}()
	return lines
}

func next(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case l := <-lines:
		return l
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
		return ""
	}
}

func TestWriter_Zerolog(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	lines := collect(t, ln)

	w := NewWriter(Options{Addr: ln.Addr().String(), FlushInterval: 10 * time.Millisecond, ErrorLog: io.Discard})
	log := zerolog.New(w)
	log.Info().Str("service", "api").Msg("m1")
	log.Debug().Msg("m2")

	assert.Equal(t, `{"level":"info","service":"api","message":"m1"}`, next(t, lines))
	assert.Equal(t, `{"level":"debug","message":"m2"}`, next(t, lines))
	assert.NoError(t, w.Close())
	assert.Zero(t, w.Dropped())
}

func TestWriter_AddsNewline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	lines := collect(t, ln)

	w := NewWriter(Options{Addr: ln.Addr().String(), ErrorLog: io.Discard})
	_, err = w.Write([]byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"b":2}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, `{"a":1}`, next(t, lines))
	assert.Equal(t, `{"b":2}`, next(t, lines))
}

func TestWriter_CloseDeliversToLateServer(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	w := NewWriter(Options{Addr: addr, FlushInterval: 10 * time.Millisecond, RetryInterval: time.Hour, ErrorLog: io.Discard})
	_, err = w.Write([]byte(`{"late":true}`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()
	lines := collect(t, ln)

	require.NoError(t, w.Close())
	assert.Equal(t, `{"late":true}`, next(t, lines))
}

func TestWriter_Undelivered(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	w := NewWriter(Options{Addr: addr, QueueSize: 2, FlushInterval: time.Hour, ErrorLog: io.Discard})
	for range 5 {
		_, err := w.Write([]byte(`{}`))
		require.NoError(t, err)
	}

	assert.EqualError(t, w.Close(), "loghell: 2 lines not delivered")
	assert.Equal(t, uint64(3), w.Dropped())

	_, err = w.Write([]byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, w.Close())
}
