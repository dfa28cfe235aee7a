package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/bus-ticket-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/bus-ticket-reservations/internal/adapters/mongo"
	"github.com/robertarktes/bus-ticket-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/bus-ticket-reservations/internal/adapters/redis"
	"github.com/robertarktes/bus-ticket-reservations/internal/config"
	httphandler "github.com/robertarktes/bus-ticket-reservations/internal/http"
	"github.com/robertarktes/bus-ticket-reservations/internal/idempotency"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
	"github.com/robertarktes/bus-ticket-reservations/internal/ratelimit"
	"github.com/robertarktes/bus-ticket-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	ledger := crdb.NewRepository(pool)
	if err := ledger.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate ticket ledger: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDatabase)
	schedules := mongoadapter.NewScheduleRepository(mongoDB, logger)
	if err := schedules.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("failed to ensure mongo indexes: %v", err)
	}
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	seatLock := redisadapter.NewSeatLock(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := ratelimit.NewRateLimiter(seatLock)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	if _, err := rabbit.NewPublisher(rabbitConn); err != nil {
		log.Fatalf("failed to declare exchange: %v", err)
	}

	service := reservation.NewService(ledger, schedules, seatLock, audit, logger, cfg.HoldTTL)
	handlers := httphandler.NewHandlers(cfg, service, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
