// Package config loads server and client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// Server holds the room server settings.
type Server struct {
	Addr     string `envconfig:"ROOM_ADDR" default:":8080" validate:"required"`
	DataPath string `envconfig:"ROOM_DATA_PATH"`
	RedisURL string `envconfig:"ROOM_REDIS_URL" validate:"omitempty,url"`
	RedisKey string `envconfig:"ROOM_REDIS_KEY" default:"room:active_users" validate:"required"`
	LogLevel string `envconfig:"ROOM_LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`

	PingInterval time.Duration `envconfig:"ROOM_PING_INTERVAL" default:"30s" validate:"gt=0"`
	PongWait     time.Duration `envconfig:"ROOM_PONG_WAIT" default:"60s" validate:"gtfield=PingInterval"`
	WriteWait    time.Duration `envconfig:"ROOM_WRITE_WAIT" default:"10s" validate:"gt=0"`

	SendBuffer       int     `envconfig:"ROOM_SEND_BUFFER" default:"64" validate:"min=1"`
	MaxBacklog       int     `envconfig:"ROOM_MAX_BACKLOG" default:"100" validate:"min=0"`
	HistoryLimit     int     `envconfig:"ROOM_HISTORY_LIMIT" default:"10000" validate:"min=1,gtefield=MaxBacklog"`
	PageSize         int     `envconfig:"ROOM_PAGE_SIZE" default:"100" validate:"min=1,max=1000"`
	MessageRate      float64 `envconfig:"ROOM_MESSAGE_RATE" default:"5" validate:"gte=0"`
	MessageBurst     int     `envconfig:"ROOM_MESSAGE_BURST" default:"10" validate:"min=1"`
	JoinRate         float64 `envconfig:"ROOM_JOIN_RATE" default:"1" validate:"gte=0"`
	JoinBurst        int     `envconfig:"ROOM_JOIN_BURST" default:"5" validate:"min=1"`
	MaxNameLength    int     `envconfig:"ROOM_MAX_NAME_LENGTH" default:"32" validate:"min=1,max=256"`
	MaxMessageLength int     `envconfig:"ROOM_MAX_MESSAGE_LENGTH" default:"2000" validate:"min=1"`
}

// Client holds the terminal client settings.
type Client struct {
	Server       string        `envconfig:"ROOM_SERVER" default:"ws://localhost:8080" validate:"required,url"`
	Name         string        `envconfig:"ROOM_NAME"`
	LogLevel     string        `envconfig:"ROOM_LOG_LEVEL" default:"warn" validate:"oneof=trace debug info warn error"`
	Poll         bool          `envconfig:"ROOM_POLL" default:"false"`
	PollInterval time.Duration `envconfig:"ROOM_POLL_INTERVAL" default:"2s" validate:"gt=0"`
}

// LoadServer reads the server settings. Variables from envFiles (default ".env")
// fill in anything not already set in the environment.
func LoadServer(envFiles ...string) (Server, error) {
	var cfg Server
	if err := load(&cfg, envFiles); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads the client settings the same way as LoadServer.
func LoadClient(envFiles ...string) (Client, error) {
	var cfg Client
	if err := load(&cfg, envFiles); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

func load(cfg any, envFiles []string) error {
	if err := godotenv.Load(envFiles...); err != nil {
		// the default .env is optional, named files are not
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}

// Validate checks the settings, including values overridden by flags after loading.
func (c Server) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

// Validate checks the settings, including values overridden by flags after loading.
func (c Client) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}

// Level parses a validated log level name.
func Level(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
