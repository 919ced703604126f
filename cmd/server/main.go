package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
	"tracklab/internal/platform/config"
	"tracklab/internal/platform/logger"
	"tracklab/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	databaseURL := config.GetEnv("DATABASE_URL", "")
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	instanceID := config.GetEnv("INSTANCE_ID", uuid.NewString())

	log := logger.New(os.Stdout, logLevel, logFormat)
	ctx := context.Background()

	var repo composition.Repository
	if databaseURL != "" {
		pg, err := composition.NewPostgresRepository(ctx, databaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Error("postgres migration failed", "error", err)
			os.Exit(1)
		}
		repo = pg
		log.Info("using postgres store")
	} else {
		repo = composition.NewInMemoryRepository()
		log.Info("using in-memory store")
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		log.Info("redis fanout enabled", "addr", redisAddr)
	}

	svc := composition.NewService(repo)
	met := metrics.New()
	h := composition.NewHandler(svc, log, met)
	relay := bus.NewRelay(log, met, rdb, instanceID)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetStoredCompositions(svc.CompositionCount(req.Context()))
			met.SetOpenSessions(relay.SessionCount())
		}).ServeHTTP(w, req)
	})
	r.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	r.Get("/ws/compositions/{composition_id}", relay.ServeComposition)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"instance_id", instanceID,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
