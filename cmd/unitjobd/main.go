// Command unitjobd runs the transactional unit job engine as a
// standalone process: it loads a YAML unit/config file, registers
// simulated subtypes for every unit it describes, replays its journal,
// and serves a small JSON API plus Prometheus metrics until signalled to
// stop.
package main

import (
	"fmt"
	"os"

	"github.com/klyuchko/unitjob/internal/cli"
)

func main() {
	if err := cli.BuildDaemonCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
