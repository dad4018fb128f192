package main

import "time"

type Config struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8765" validate:"gt=0,lte=65535"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	HistorySize     int           `env:"HISTORY_SIZE,default=50" validate:"gt=0"`
	ReplayWindow    int           `env:"REPLAY_WINDOW,default=20" validate:"gt=0"`
	PresenceTimeout time.Duration `env:"PRESENCE_TIMEOUT,default=60s" validate:"gt=0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=30s" validate:"gt=0"`
	SendTimeout     time.Duration `env:"SEND_TIMEOUT,default=5s" validate:"gt=0"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=60s" validate:"gt=0"`
}
