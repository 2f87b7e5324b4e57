package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maruel/subcommands"
)

var cmdHealth = &subcommands.Command{
	UsageLine: "health [-endpoint addr]",
	ShortDesc: "checks loghell health status",
	LongDesc:  "Exits 0 when the server answers its health check with 200 OK.",
	CommandRun: func() subcommands.CommandRun {
		c := &healthRun{}
		c.registerBaseFlags()
		c.Flags.DurationVar(&c.timeout, "timeout", 5*time.Second, "request timeout")
		return c
	},
}

type healthRun struct {
	baseRun
	timeout time.Duration
}

func (c *healthRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.done(a, health(ctx, c.endpoint))
}

func health(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("incorrect response status code: %d", resp.StatusCode)
	}
	return nil
}
