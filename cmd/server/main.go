package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-safety/internal/api"
	"github.com/technosupport/ts-safety/internal/config"
	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/detect"
	"github.com/technosupport/ts-safety/internal/engine"
	"github.com/technosupport/ts-safety/internal/events"
	"github.com/technosupport/ts-safety/internal/middleware"
	"github.com/technosupport/ts-safety/internal/notify"
	"github.com/technosupport/ts-safety/internal/state"
	"github.com/technosupport/ts-safety/internal/tokens"
)

const defaultConfigPath = "config/default.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	cfgStore := config.NewStore(cfg)
	cfgStore.StartWatcher(ctx, configPath)

	// 2. Postgres
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	streams := data.StreamModel{DB: db}
	eventRepo := data.EventModel{DB: db}

	// 3. Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis ping error: %v", err)
	}
	defer rdb.Close()
	store := state.NewStore(rdb)

	// 4. NATS
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("NATS connect error: %v", err)
	}
	defer nc.Close()

	publisher := events.NewPublisher(nc)
	notifier := notify.NewNotifier(nc)

	// 5. Detection provider
	provider, err := detect.NewONNXProvider(cfg.ModelDir, cfg.ConfidenceThreshold)
	if err != nil {
		log.Fatalf("Detector init error: %v", err)
	}
	defer provider.Close()

	// 6. Engine registry
	registry := engine.NewRegistry(engine.Deps{
		Cfg:      cfgStore,
		Streams:  streams,
		Events:   eventRepo,
		Detector: provider,
		Bus:      publisher,
		Notifier: notifier,
		Store:    store,
	})
	if err := registry.StartAll(ctx); err != nil {
		log.Printf("[Main] start active streams: %v", err)
	}

	// 7. Periodic system status
	reporter := events.NewStatusReporter(publisher, nil, 10*time.Second)
	go reporter.Run(ctx)

	// 8. HTTP surface
	tokenMgr := tokens.NewManager(cfg.JWTKey)
	hub := api.NewWSHub(nc, store, tokenMgr, streams)
	if err := hub.Start(); err != nil {
		log.Fatalf("WS hub error: %v", err)
	}
	defer hub.Close()

	router := api.NewRouter(api.RouterDeps{
		Auth:      api.NewAuthHandler(tokenMgr, cfg.APIUser, cfg.APIPassword),
		Commands:  api.NewCommandHandler(registry),
		Streams:   api.NewStreamHandler(streams, registry),
		Events:    api.NewEventHandler(eventRepo),
		Hub:       hub,
		JWT:       middleware.NewJWTAuth(tokenMgr),
		StaticDir: cfg.StaticDir,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("[Main] listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[Main] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] HTTP shutdown: %v", err)
	}
	registry.StopAll()
	log.Println("[Main] stopped")
}
