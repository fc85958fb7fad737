// Command outboxd runs the job outbox: the dispatcher, the operator HTTP
// API and the live event stream. Subcommands cover schema migration and
// offline operator actions against the same store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
