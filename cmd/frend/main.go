package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// Restore default handling so a second Ctrl-C kills the process.
		<-ctx.Done()
		stop()
	}()

	app := newApp(os.Stdin, os.Stdout)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
