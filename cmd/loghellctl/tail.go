package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maruel/subcommands"
)

var cmdTail = &subcommands.Command{
	UsageLine: "tail [-endpoint addr] [-query field:value]",
	ShortDesc: "prints matching entries as they arrive",
	LongDesc:  "Follows the server's event stream and prints one entry per line.",
	CommandRun: func() subcommands.CommandRun {
		c := &tailRun{}
		c.registerBaseFlags()
		c.Flags.StringVar(&c.query, "query", "", "field:value query, server default when empty")
		return c
	},
}

type tailRun struct {
	baseRun
	query string
}

func (c *tailRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	ctx, cancel := signalContext()
	defer cancel()
	err := tail(ctx, c.endpoint, c.query, a.GetOut())
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return c.done(a, err)
}

var errStreamRejected = errors.New("stream rejected")

// tail copies the data lines of the event stream to out until ctx is
// done or the server closes the stream.
func tail(ctx context.Context, endpoint, query string, out io.Writer) error {
	target := "http://" + endpoint + "/events"
	if query != "" {
		target += "?query=" + url.QueryEscape(query)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("incorrect response status code: %d", resp.StatusCode)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "error" {
				return fmt.Errorf("%w: %s", errStreamRejected, data)
			}
			fmt.Fprintln(out, data)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
