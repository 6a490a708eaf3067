package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botox/internal/app"
	"botox/internal/runtime/supervisor"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envPath, "env", ".env", "path to env file with secrets")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, app.Options{ConfigPath: cfgPath, EnvFile: envPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	runErr := a.Run(ctx)

	reason := app.StopSignal
	switch {
	case errors.Is(runErr, app.ErrTaskExhausted), errors.Is(runErr, supervisor.ErrAllExhausted):
		reason = app.StopExhausted
	case runErr != nil && ctx.Err() == nil:
		reason = app.StopFatal
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = a.Stop(stopCtx, reason)
	stopCancel()

	if reason != app.StopSignal {
		fmt.Fprintln(os.Stderr, "fatal:", runErr)
		os.Exit(1)
	}
}
