// Command ltx-exec is the Linux Test Executor's CLI entrypoint: it
// takes no flags or environment (the wire protocol carries everything
// the executor needs), wires a default ltx.Engine to the process's own
// stdin/stdout, and runs until the peer hangs up or a fatal protocol
// violation exits the process directly.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdent/ltx"
	"github.com/cdent/ltx/internal/constants"
)

func main() {
	opts := ltx.DefaultOptions()

	engine, err := ltx.New(opts)
	if err != nil {
		os.Stderr.WriteString("ltx-exec: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer engine.Close()

	sink := engine.Sink()
	sink.Logf(nil, "Linux Test Executor %s", constants.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err = engine.Run(ctx)
	sink.Logf(nil, "Exiting")
	if err != nil && err != context.Canceled {
		os.Exit(1)
	}
}
