package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/broker"
	"chat-relay/runtime/workers"
	"chat-relay/transport/mqtt"
)

const (
	exitOK     = 0
	exitConfig = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Broker relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return exitConfig, fmt.Errorf("config invalid: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	conn := mqtt.NewConn(logger, config.BrokerURL, config.ClientID)
	relay := broker.NewRelay(logger, clk, conn, broker.RelayConfig{
		HistorySize:     config.HistorySize,
		ReplayWindow:    config.ReplayWindow,
		PresenceTimeout: config.PresenceTimeout,
		BackoffInitial:  config.BackoffInitial,
		BackoffCap:      config.BackoffCap,
	})

	logger.Info("Broker relay starting", "broker", config.BrokerURL)

	// The relay's connection loop and the presence sweep both run for
	// the lifetime of the process.
	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		relay,
		workers.NewSweepWorker(logger, clk, relay, config.SweepInterval),
	)
	supervisor.Run(ctx)

	return exitOK, nil
}
