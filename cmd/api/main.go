package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timeers/root-website-sub000/internal/app"
	"github.com/timeers/root-website-sub000/internal/config"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	rt, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer rt.Close()

	service := app.NewService(cfg, app.Deps{
		Repo:   rt.Repo,
		Laws:   rt.Laws,
		Sync:   rt.Sync,
		Search: rt.Search,
	})

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if rt.Scheduler != nil {
		go func() {
			if err := rt.Scheduler.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("sync scheduler stopped: %v", err)
			}
		}()
	} else {
		log.Printf("No upstream rules repository configured, scheduled sync disabled")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, rt.Registry)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Law of Root API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
