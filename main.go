package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/api"
	"github.com/clementus360/proxy-chat-client/app"
	"github.com/clementus360/proxy-chat-client/config"
	"github.com/clementus360/proxy-chat-client/database"
	"github.com/clementus360/proxy-chat-client/geo"
	"github.com/clementus360/proxy-chat-client/handlers"
	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/session"
	"github.com/clementus360/proxy-chat-client/websocket"
)

func main() {
	cfg := config.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store, shared with other client processes through Redis when configured
	var store session.Store = session.NewMemoryStore()
	if cfg.RedisURL != "" {
		rdb, err := database.OpenRedis(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis unavailable")
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, "default")
	}

	// Offline archive
	var archive app.Archive
	if cfg.DatabaseURL != "" {
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Postgres unavailable")
		}
		defer pool.Close()
		if err := database.RunMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Unable to migrate archive")
		}
		archive = database.NewArchive(pool)
	}

	var source geo.Source
	if cfg.Latitude != nil && cfg.Longitude != nil {
		source = geo.StaticSource(models.Coordinate{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude})
	}

	var client *app.App
	client = app.New(app.Deps{
		API:      api.New(cfg.APIURL, func() string { return client.Token() }),
		Conn:     websocket.NewManager(cfg.WSURL, websocket.WithReconnect(cfg.ReconnectAttempts, cfg.ReconnectDelay)),
		Store:    store,
		Locator:  geo.NewLocator(source, cfg.GeoTimeout, cfg.GeoMaxAge),
		Archive:  archive,
		PageSize: cfg.PageSize,
	})

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Client stopped")
			stop()
		}
	}()

	// Set up http routes
	mux := http.NewServeMux()
	handlers.New(client).Routes(mux)

	// Set up CORS
	c := cors.AllowAll()
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: c.Handler(mux)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("api", cfg.APIURL).Msg("Proximity chat client is running...")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Local API stopped")
	}
}
