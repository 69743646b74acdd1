// Command bookshelfctl is a command line client for the bookshelf API. It keeps the
// refresh token in a local credentials file and refreshes access tokens on demand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", describeError(err))
		os.Exit(1)
	}
}
