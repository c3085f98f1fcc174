package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"omnidesk/room-service/internal/config"
	"omnidesk/room-service/internal/events"
	"omnidesk/room-service/internal/httpapi"
	"omnidesk/room-service/internal/store"
	"omnidesk/room-service/internal/store/mongodb"
	"omnidesk/room-service/internal/telemetry"
	"omnidesk/room-service/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	shutdownTelemetry := telemetry.Setup("room-service", telemetry.Options{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
	cancel()
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()

	var restriction store.RestrictionFilter = store.PassthroughFilter{}
	if len(cfg.RestrictedUnits) > 0 {
		units := cfg.RestrictedUnits
		restriction = store.UnitFilter{Units: func(context.Context) ([]string, error) {
			return units, nil
		}}
	}

	rooms := mongodb.NewStore(client.Database(cfg.MongoDB), mongodb.Options{
		DefaultEstimatedWaitingTime: cfg.DefaultEstimatedWaitingTime,
		PriorityWeightNotSpecified:  cfg.PriorityWeightNotSpecified,
		Restriction:                 restriction,
		Logger:                      logger,
	})

	publisher := events.NewNoop(logger)
	if cfg.AMQPURL != "" {
		p, err := events.New(cfg.AMQPURL, cfg.AMQPExchange, "room-service", logger)
		if err != nil {
			log.Fatalf("amqp connect: %v", err)
		}
		publisher = p
	}
	defer publisher.Close()

	handler := httpapi.NewHandler(rooms, rooms, publisher)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "room-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("room-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.SweepInterval <= 0 {
			return
		}
		sweeper := worker.New(rooms, publisher, logger)
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			count, err := sweeper.Run(ctx)
			cancel()
			if err != nil {
				log.Printf("abandonment sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("abandonment sweep processed %d rooms", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
