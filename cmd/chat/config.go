package main

import "time"

type Config struct {
	BrokerURL         string        `env:"BROKER_URL,default=tcp://localhost:1883" validate:"required"`
	Username          string        `env:"CHAT_USERNAME"`
	LogLevel          string        `env:"LOG_LEVEL,default=WARN"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s" validate:"gt=0"`
	BackoffInitial    time.Duration `env:"BACKOFF_INITIAL,default=5s" validate:"gt=0"`
	BackoffCap        time.Duration `env:"BACKOFF_CAP,default=60s" validate:"gt=0"`
}
