package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velora-atelier/api/internal/config"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/handler"
	"github.com/velora-atelier/api/internal/notify"
	"github.com/velora-atelier/api/internal/router"
	"github.com/velora-atelier/api/internal/service"
	"github.com/velora-atelier/api/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("FATAL: ping database: %v", err)
	}

	queries := database.New(pool)

	var notifier service.Notifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("FATAL: connect to AMQP broker: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		log.Println("INFO: AMQP_URL not set, order confirmations will be logged")
		notifier = notify.NewLogNotifier()
	}

	orderService := service.NewOrderService(pool, queries, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, notifier)

	hub := ws.NewHub()
	go hub.Run()

	mux := router.New(router.Deps{
		JWTSecret:    cfg.JWTSecret,
		CORSOrigins:  cfg.CORSOrigins,
		Auth:         handler.NewAuthHandler(queries, cfg.JWTSecret),
		Products:     handler.NewProductHandler(queries),
		CustomOrders: handler.NewCustomOrderHandler(queries),
		Orders:       handler.NewOrderHandler(orderService, queries, hub),
		Hub:          hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("INFO: listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: shutdown: %v", err)
	}
}
