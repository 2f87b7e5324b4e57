// Command loghellctl talks to a loghell server: it checks health,
// generates load and tails matching entries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/subcommands"
)

const defaultEndpoint = "127.0.0.1:6669"

var application = &subcommands.DefaultApplication{
	Name:  "loghellctl",
	Title: "Command line utility to interact with loghell.",
	Commands: []*subcommands.Command{
		subcommands.CmdHelp,
		cmdHealth,
		cmdSimulate,
		cmdTail,
	},
}

// baseRun carries the flags every command shares.
type baseRun struct {
	subcommands.CommandRunBase
	endpoint string
}

func (b *baseRun) registerBaseFlags() {
	b.Flags.StringVar(&b.endpoint, "endpoint", defaultEndpoint, "loghell socket address")
}

// done reports err and converts it into an exit code.
func (b *baseRun) done(a subcommands.Application, err error) int {
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	return 0
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}
