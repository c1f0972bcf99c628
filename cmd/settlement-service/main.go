package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-settlement/internal/auth"
	"ms-settlement/internal/config"
	"ms-settlement/internal/database/migrations"
	kafkawrap "ms-settlement/internal/kafka"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/settlement"
	"ms-settlement/internal/settlement/api"
	"ms-settlement/internal/settlement/db"
	rediswrap "ms-settlement/internal/settlement/redis"
	"ms-settlement/internal/ticketcode"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	log.Info("DATABASE", "Postgres connection established")

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		log.Info("DATABASE", "Migrations applied")
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	var cache settlement.ProcessedCache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable, replay cache disabled: %v", err))
	} else {
		cache = rediswrap.NewProcessedCache(redisClient, cfg.Redis.EventTTL)
		log.Info("REDIS", "Redis connection established")
	}

	// --- Kafka ---
	var producer settlement.Publisher
	topics := settlement.Topics{
		OrderSettled:  cfg.Kafka.Topics.OrderSettled,
		OrderRejected: cfg.Kafka.Topics.OrderRejected,
	}
	if cfg.Kafka.Enabled {
		if err := kafkawrap.EnsureTopicsExist(cfg.Kafka.Brokers, []string{topics.OrderSettled, topics.OrderRejected}); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		kafkaProducer := kafkawrap.NewProducer(cfg.Kafka.Brokers)
		defer kafkaProducer.Close()
		producer = kafkaProducer
		log.Info("KAFKA", "Producer initialized")
	} else {
		log.Warn("KAFKA", "Kafka disabled, settlement events will not be published")
	}

	// --- Settlement service ---
	codes, err := ticketcode.NewGenerator(cfg.Ticket.SigningSecret)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	verifier := settlement.NewVerifier(cfg.Stripe.WebhookSecret)
	store := &db.DB{Bun: bunDB}
	service := settlement.NewService(store, store, store, codes, verifier, producer, cache, topics, log)
	handler := &api.Handler{Service: service, Logger: log}

	// --- Router ---
	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/stripe", handler.StripeWebhook)

	r.Group(func(r chi.Router) {
		if cfg.Auth.OIDCIssuer != "" {
			oidcMiddleware, err := auth.NewMiddleware(ctx, cfg.Auth.OIDCIssuer)
			if err != nil {
				log.Fatal("AUTH", fmt.Sprintf("Failed to set up OIDC middleware: %v", err))
			}
			r.Use(oidcMiddleware.Handler)
		} else {
			log.Warn("AUTH", "OIDC_ISSUER not set, staff endpoints are unprotected")
			r.Use(auth.Attribution)
		}
		r.Post("/api/v1/tickets/verify", handler.VerifyTicket)
		r.Get("/api/v1/tickets/{ticketID}/qr", handler.TicketQR)
		r.Get("/api/v1/orders/{orderID}/tickets", handler.OrderTickets)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := sqldb.PingContext(req.Context()); err != nil {
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(req.Context()).Err(); err != nil {
			status["redis"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Settlement service listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("SERVER", "Shutdown signal received")

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SERVER", fmt.Sprintf("Forced shutdown: %v", err))
	}
	log.Info("SERVER", "Settlement service stopped")
}
