package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/api"
	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	config := server.NewConfigFromEnv()
	logging.Setup(config.Env, config.LogLevel)
	log.Info().Interface("config", redacted(*config)).Msg("starting roomchat")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewDB(config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.DatabasePath).Msg("opening database")
	}
	defer db.Close()
	if err := storage.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("running migrations")
	}

	verifier := auth.NewVerifier(config.JWTSecret, config.TokenTTL)

	opts := server.Options{
		Verifier: verifier,
		Sink:     storage.NewMessageRepository(db),
	}

	var bus *relay.Redis
	if config.RedisAddr != "" {
		bus, err = relay.NewRedis(ctx, config.RedisAddr, config.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting relay")
		}
		opts.Relay = bus
	}

	srv := server.New(config, opts)

	if bus != nil {
		go func() {
			err := bus.Subscribe(ctx, func(m relay.Message) {
				srv.PublishLocal(m.Room, m.User, m.Msg)
			})
			if err != nil {
				log.Warn().Err(err).Msg("relay subscription failed; remote messages will not be delivered")
			}
		}()
		log.Info().Str("addr", config.RedisAddr).Str("origin", bus.Origin()).Msg("relay subscribed")
	}

	var sweeper *server.Sweeper
	if config.RoomSweepSchedule != "" {
		sweeper, err = server.NewSweeper(config.RoomSweepSchedule, srv)
		if err != nil {
			log.Fatal().Err(err).Msg("configuring room sweeper")
		}
		sweeper.Start()
	}

	handler := api.NewRouter(api.NewHandlers(db, verifier, srv), srv, config.AllowedOrigins)
	httpServer := server.CreateServer(config.Port, handler)

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Error().Err(err).Msg("server crashed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	_ = server.ShutdownServer(httpServer, shutdownTimeout)
	if sweeper != nil {
		sweeper.Stop()
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("push connections did not drain in time")
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Debug().Err(err).Msg("closing relay")
		}
	}

	log.Info().Msg("shutdown complete")
	_ = os.Stdout.Sync()
}

// redacted hides secrets before the configuration is logged.
func redacted(cfg server.Config) server.Config {
	if cfg.JWTSecret != "" {
		cfg.JWTSecret = "***"
	}
	return cfg
}
