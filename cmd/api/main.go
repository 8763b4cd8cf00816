package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"agora/api/internal/app"
	"agora/api/internal/config"
	"agora/api/internal/events"
	"agora/api/internal/inbox"
	"agora/api/internal/notify"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/tags"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var dispatchOpts []notify.Option
	var serviceOpts []app.Option

	// Unread counts are cached in Redis when it is reachable; Postgres stays the source of truth.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		counter, err := inbox.NewRedisCounter(cfg.RedisURL, cfg.UnreadTTL)
		if err != nil {
			log.Printf("redis unavailable, unread counts read from postgres: %v", err)
		} else {
			log.Printf("Using Redis for unread notification counts")
			defer counter.Close()
			dispatchOpts = append(dispatchOpts, notify.WithCounter(counter))
			serviceOpts = append(serviceOpts, app.WithUnreadCounter(counter))
		}
	}

	if strings.TrimSpace(cfg.NatsURL) != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("agora-api"))
		if err != nil {
			log.Printf("nats unavailable, realtime notifications disabled: %v", err)
		} else {
			defer func() {
				if err := nc.Drain(); err != nil {
					log.Printf("nats drain error: %v", err)
				}
			}()
			dispatchOpts = append(dispatchOpts, notify.WithPublisher(events.NewNatsPublisher(nc, cfg.NotifySubject)))
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	serviceOpts = append(serviceOpts, app.WithSearch(searchService))
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	dispatcher := notify.NewDispatcher(dataStore, dispatchOpts...)
	defer dispatcher.Wait()
	tagManager := tags.NewManager(tags.NewPostgres(dataStore), dispatcher)

	service := app.New(cfg, dataStore, tagManager, dispatcher, serviceOpts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Agora API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
