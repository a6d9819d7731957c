package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microsoft/dbgp-bridge/internal/commands"
	"github.com/microsoft/dbgp-bridge/internal/telemetry"
	"github.com/microsoft/dbgp-bridge/pkg/logger"
	"github.com/microsoft/dbgp-bridge/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("dbgp-bridge")
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), log.Logger); panicErr != nil {
			fmt.Fprintln(os.Stderr, panicErr)
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetrySystem := telemetry.GetTelemetrySystem()

	root, err := commands.NewRootCommand(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errSetup)
	}

	err = root.ExecuteContext(ctx)
	_ = telemetrySystem.Shutdown(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		log.Flush()
		os.Exit(errCommandError)
	}
}
