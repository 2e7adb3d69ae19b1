package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	dispatchcmd "github.com/louisbranch/typedevents/internal/cmd/dispatch"
	platformcmd "github.com/louisbranch/typedevents/internal/platform/cmd"
	"github.com/louisbranch/typedevents/internal/platform/config"
)

func main() {
	cfg, err := dispatchcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[DISPATCH] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceDispatch, cfg.OTel, func(ctx context.Context) error {
		return dispatchcmd.Run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr)
	})
	if errors.Is(err, dispatchcmd.ErrDispatchFailed) {
		config.Exit(os.Stderr, 1, "%v", err)
	}
	if err != nil {
		log.Fatalf("dispatch: %v", err)
	}
}
