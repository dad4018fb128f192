package main

import "time"

type Config struct {
	BrokerURL       string        `env:"BROKER_URL,default=tcp://localhost:1883" validate:"required"`
	ClientID        string        `env:"CLIENT_ID,default=chat_server"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	HistorySize     int           `env:"HISTORY_SIZE,default=50" validate:"gt=0"`
	ReplayWindow    int           `env:"REPLAY_WINDOW,default=20" validate:"gt=0"`
	PresenceTimeout time.Duration `env:"PRESENCE_TIMEOUT,default=60s" validate:"gt=0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=30s" validate:"gt=0"`
	BackoffInitial  time.Duration `env:"BACKOFF_INITIAL,default=5s" validate:"gt=0"`
	BackoffCap      time.Duration `env:"BACKOFF_CAP,default=60s" validate:"gt=0"`
}
