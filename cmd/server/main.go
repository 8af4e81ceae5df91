package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/omochice/room-chat/internal/chat"
	"github.com/omochice/room-chat/internal/config"
	"github.com/omochice/room-chat/internal/presence"
	"github.com/omochice/room-chat/internal/store"
	"github.com/omochice/room-chat/internal/transport/ws"
)

var rootCmd = &cobra.Command{
	Use:   "room-server",
	Short: "Single-room WebSocket chat server",
	RunE:  runServer,
}

var (
	flagEnvFile  string
	flagAddr     string
	flagDataPath string
	flagRedisURL string
	flagLogLevel string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagEnvFile, "env-file", "", "optional env file to load before reading ROOM_* variables")
	flags.StringVar(&flagAddr, "addr", "", "listen address (overrides ROOM_ADDR)")
	flags.StringVar(&flagDataPath, "data-path", "", "directory to persist the message log via PebbleDB (overrides ROOM_DATA_PATH)")
	flags.StringVar(&flagRedisURL, "redis-url", "", "redis URL for the shared roster (overrides ROOM_REDIS_URL)")
	flags.StringVar(&flagLogLevel, "log-level", "", "trace, debug, info, warn or error (overrides ROOM_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute server command")
	}
}

func loadConfig(cmd *cobra.Command) (config.Server, error) {
	var files []string
	if flagEnvFile != "" {
		files = append(files, flagEnvFile)
	}
	cfg, err := config.LoadServer(files...)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = flagAddr
	}
	if flags.Changed("data-path") {
		cfg.DataPath = flagDataPath
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = flagRedisURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry presence.Registry = presence.NewMemory()
	if cfg.RedisURL != "" {
		r, err := presence.NewRedis(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return fmt.Errorf("connect roster store: %w", err)
		}
		// names left behind by a previous crash would block those users forever
		if err := r.Reset(ctx); err != nil {
			log.Warn().Err(err).Msg("[room] reset roster")
		}
		defer r.Close()
		registry = r
		log.Info().Str("key", cfg.RedisKey).Msg("[room] roster kept in redis")
	}

	var history chat.History = chat.NewMemoryHistory(cfg.HistoryLimit)
	if cfg.DataPath != "" {
		l, err := store.Open(cfg.DataPath)
		if err != nil {
			return fmt.Errorf("open message log: %w", err)
		}
		defer func() {
			if err := l.Close(); err != nil {
				log.Warn().Err(err).Msg("[room] close message log")
			}
		}()
		history = l
		log.Info().Str("path", cfg.DataPath).Uint64("last_seq", l.LastSeq()).Msg("[room] message log opened")
	}

	hub := chat.NewHub(registry, history, chat.Options{
		SendBuffer:       cfg.SendBuffer,
		MaxBacklog:       cfg.MaxBacklog,
		PingInterval:     cfg.PingInterval,
		PongWait:         cfg.PongWait,
		WriteWait:        cfg.WriteWait,
		MessageRate:      rate.Limit(cfg.MessageRate),
		MessageBurst:     cfg.MessageBurst,
		MaxNameLength:    cfg.MaxNameLength,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	srv := ws.New(cfg.Addr, hub, ws.Options{
		JoinRate:         rate.Limit(cfg.JoinRate),
		JoinBurst:        cfg.JoinBurst,
		MaxPageSize:      cfg.PageSize,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("[room] shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		log.Error().Err(err).Msg("[room] shutdown")
	}
	log.Info().Msg("[room] shutdown complete")
	return nil
}
