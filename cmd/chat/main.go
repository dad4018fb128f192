package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/broker"
	"chat-relay/runtime/workers"
	"chat-relay/transport/mqtt"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat client error: %v\n", err)
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

	stdin := bufio.NewScanner(os.Stdin)
	username := strings.TrimSpace(config.Username)
	for username == "" {
		color.Cyan.Print("Enter your username: ")
		if !stdin.Scan() {
			return exitOK, nil
		}
		username = strings.TrimSpace(stdin.Text())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	conn := mqtt.NewConn(logger, config.BrokerURL, "chat_client_"+username)
	client, err := broker.NewClient(logger, clk, conn, broker.ClientConfig{
		Username:       username,
		BackoffInitial: config.BackoffInitial,
		BackoffCap:     config.BackoffCap,
	})
	if err != nil {
		return exitConfig, err
	}

	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		client,
		workers.NewHeartbeatWorker(logger, clk, client, config.HeartbeatInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervisorDone)
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-client.Events():
				render(event, username)
			}
		}
	}()

	color.Green.Printf("Connected as %s. Type a message, /users for the roster, /quit to leave.\n", username)

	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			stop()
			<-supervisorDone
			return exitOK, nil
		case line == "/users":
			if err := client.RequestUsers(ctx); err != nil {
				color.Red.Printf("Not connected: %v\n", err)
			}
		default:
			if err := client.Send(ctx, line); err != nil {
				color.Red.Printf("Send failed: %v\n", err)
				continue
			}
			// Own messages render locally; the relay does not echo them
			// back over the broker.
			color.Gray.Printf("you: %s\n", line)
		}
	}

	stop()
	<-supervisorDone
	if err := stdin.Err(); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}
