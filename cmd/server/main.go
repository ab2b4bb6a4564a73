package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-chatserver/internal/api"
	"github.com/npezzotti/go-chatserver/internal/auth"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/presence"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/rs/zerolog"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configFile     string
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	eventTimeout   time.Duration
	debug          bool
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configFile, "config", "", "path to an ini config file, overrides the other flags")
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for the presence mirror, disabled when empty")
	flag.DurationVar(&eventTimeout, "event-timeout", config.DefaultRealtimeConfig().EventTimeout, "time limit for handling one client event")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "go-chat").Logger()

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.NewConfig(addr, dsn, signingKey, allowedOrigins)
		if cfg != nil {
			cfg.Redis.Addr = redisAddr
			if eventTimeout > 0 {
				cfg.Realtime.EventTimeout = eventTimeout
			}
		}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	members := membership.NewIndex(dbConn, cfg.Realtime.MembershipCacheTTL)
	members.Start()
	defer members.Stop()

	statusStore := presence.MultiStore{presence.NewPgStore(dbConn)}
	var redisStore *presence.RedisStore
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := presence.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer redisClient.Close()

		redisStore = presence.NewRedisStore(redisClient, 0)
		if err := redisStore.Reset(ctx); err != nil {
			logger.Warn().Err(err).Msg("reset redis presence")
		}
		cancel()
		statusStore = append(statusStore, redisStore)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	resolver := auth.NewResolver(dbConn, cfg.SigningKey)

	chatServer := server.NewChatServer(logger, server.Deps{
		Auth:    resolver,
		Members: members,
		Store:   dbConn,
		Status:  statusStore,
		Stats:   statsUpdater,
	}, server.Options{
		SendQueueSize:     cfg.Realtime.SendQueueSize,
		TypingTimeout:     cfg.Realtime.TypingTimeout,
		RateLimitBurst:    cfg.Realtime.RateLimitBurst,
		RateLimitInterval: cfg.Realtime.RateLimitInterval,
		EventTimeout:      cfg.Realtime.EventTimeout,
	})

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, resolver, cfg)
	if redisStore != nil {
		srv.UseLastStatus(redisStore)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
