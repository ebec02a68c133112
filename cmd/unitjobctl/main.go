// Command unitjobctl is a thin client for a running unitjobd: it queues
// start/stop/reload/restart/isolate jobs, cancels queued jobs, and
// prints job-table status, all over unitjobd's JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/klyuchko/unitjob/internal/cli"
)

func main() {
	if err := cli.BuildCtlCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
