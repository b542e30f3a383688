package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kubot64/apigw-release/internal/cmd"
	"github.com/kubot64/apigw-release/internal/output"
)

// version is injected at build time via -ldflags "-X main.version=<value>".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, version)
	stop()

	if err != nil {
		os.Exit(output.ExitCode(err))
	}
}
