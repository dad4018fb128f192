package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/relay"
	"chat-relay/runtime/workers"
	"chat-relay/transport/ws"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return exitConfig, fmt.Errorf("config invalid: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Shutdown on termination signals (Ctrl+C, systemd stop).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Relay core and websocket transport.
	clk := clock.New()
	chat := relay.New(logger, clk, relay.Config{
		HistorySize:     config.HistorySize,
		ReplayWindow:    config.ReplayWindow,
		PresenceTimeout: config.PresenceTimeout,
		SendTimeout:     config.SendTimeout,
	})
	server := ws.NewServer(logger, chat)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: server.Routes(),
	}

	// 4. Background workers: the presence sweep and the stats log line.
	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		workers.NewSweepWorker(logger, clk, chat, config.SweepInterval),
		workers.NewStatsWorker(logger, config.StatsInterval, func() int { return len(chat.OnlineUsers()) }),
	)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervisorDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			supervisor.Stop()
			<-supervisorDone
			return exitRuntime, fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	supervisor.Stop()
	<-supervisorDone
	return exitOK, nil
}
