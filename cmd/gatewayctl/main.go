package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lgc202/gateway-kit/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.StdStreams(), os.Args[1:])
	stop()
	os.Exit(code)
}
