// Command loanctl is the operator CLI for the lifecycle graph, the tracking
// number counters, signature artifacts and the store invariants.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loanctl:", err)
		os.Exit(exitCode(err))
	}
}
