package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/coffersTech/loghell/sdks/go/loghell"
	json "github.com/goccy/go-json"
	"github.com/maruel/subcommands"
)

var cmdSimulate = &subcommands.Command{
	UsageLine: "simulate [-endpoint addr] [-n count] [-rate per-second]",
	ShortDesc: "sends generated log entries",
	LongDesc:  "Generates JSON log entries and ships them through the Go SDK writer.",
	CommandRun: func() subcommands.CommandRun {
		c := &simulateRun{}
		c.registerBaseFlags()
		c.Flags.IntVar(&c.count, "n", 1000, "number of entries to send")
		c.Flags.IntVar(&c.rate, "rate", 100, "entries per second, 0 for unlimited")
		c.Flags.StringVar(&c.service, "service", "simulator", "service field of generated entries")
		return c
	},
}

type simulateRun struct {
	baseRun
	count   int
	rate    int
	service string
}

func (c *simulateRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if c.count < 0 || c.rate < 0 {
		return c.done(a, errors.New("-n and -rate must not be negative"))
	}
	ctx, cancel := signalContext()
	defer cancel()

	w := loghell.NewWriter(loghell.Options{Addr: c.endpoint, ErrorLog: a.GetErr()})
	sent, err := simulate(ctx, w, c.count, c.rate, newGenerator(c.service))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	fmt.Fprintf(a.GetOut(), "sent %d entries, dropped %d\n", sent, w.Dropped())
	return c.done(a, err)
}

type httpInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status"`
}

type simulatedEntry struct {
	Timestamp int64    `json:"timestamp"`
	Level     string   `json:"level"`
	Service   string   `json:"service"`
	Message   string   `json:"message"`
	Seq       int      `json:"seq"`
	HTTP      httpInfo `json:"http"`
}

var (
	levels   = []string{"debug", "debug", "info", "info", "info", "warn", "error"}
	methods  = []string{"GET", "GET", "GET", "POST", "PUT", "DELETE"}
	paths    = []string{"/", "/api/users", "/api/orders", "/health", "/api/search"}
	statuses = []int{200, 200, 200, 201, 204, 400, 404, 500, 503}
)

type generator struct {
	service string
	rnd     *rand.Rand
	now     func() time.Time
}

func newGenerator(service string) *generator {
	return &generator{
		service: service,
		rnd:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:     time.Now,
	}
}

func (g *generator) entry(seq int) simulatedEntry {
	e := simulatedEntry{
		Timestamp: g.now().UnixNano(),
		Level:     levels[g.rnd.IntN(len(levels))],
		Service:   g.service,
		Seq:       seq,
		HTTP: httpInfo{
			Method: methods[g.rnd.IntN(len(methods))],
			Path:   paths[g.rnd.IntN(len(paths))],
			Status: statuses[g.rnd.IntN(len(statuses))],
		},
	}
	e.Message = fmt.Sprintf("%s %s %d", e.HTTP.Method, e.HTTP.Path, e.HTTP.Status)
	return e
}

// simulate writes count generated entries to w, at most rate per second.
// It returns how many entries were written.
func simulate(ctx context.Context, w io.Writer, count, rate int, g *generator) (int, error) {
	var tick <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(max(time.Second/time.Duration(rate), time.Nanosecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := range count {
		if tick != nil {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return i, err
		}

		data, err := json.Marshal(g.entry(i))
		if err != nil {
			return i, err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return i, err
		}
	}
	return count, nil
}
