package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	configs "github.com/avvvet/gameview-services/configs"
	"github.com/avvvet/gameview-services/internal/gamesvc/bootstrap"
	"github.com/avvvet/gameview-services/internal/gamesvc/broker"
	"github.com/avvvet/gameview-services/internal/gamesvc/config"
	handlers "github.com/avvvet/gameview-services/internal/gamesvc/handlers"
	"github.com/avvvet/gameview-services/internal/gamesvc/service"
	nats "github.com/avvvet/gameview-services/internal/nats"
)

const SERVICE_NAME = "game"

var instanceId string

func init() {
	configs.LoadEnv(SERVICE_NAME)
	instanceId = configs.CreateUniqueInstance(SERVICE_NAME)
	configs.Logging(SERVICE_NAME + "_service")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	auditLog, closeAudit, err := bootstrap.OpenAudit(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer closeAudit()

	// Connect to NATS
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
	if err != nil {
		log.Fatalf("Error: unable to connect to NATS server %v", err)
	}
	defer n.Close()
	log.Infof("NATS connection established successfully %s", n.Url)

	if err := broker.EnsureStreams(ctx, n.JS, cfg.GameEventsStream, cfg.UserEventsStream, cfg.UserEventsSubject); err != nil {
		log.Fatalf("Error: unable to ensure streams %v", err)
	}
	emitter := broker.NewEmitter(n.JS, cfg.PublishTimeout, cfg.PublishMaxRetries)
	log.Infof("publishing game events on %v", broker.Topics())

	replicas := service.NewReplicaService(st)
	if err := replicas.EnsureRoles(ctx); err != nil {
		log.Fatalf("Error: unable to seed roles %v", err)
	}
	ingest := service.NewIngestService(replicas)
	games := service.NewGameService(st, emitter, auditLog, cfg.AverageIncludeActive)
	ledger := service.NewParticipationService(st, cfg.AverageIncludeActive)

	// user replica ingestion
	consumer := broker.NewConsumer(n.JS, broker.ConsumerConfig{
		Stream:         cfg.UserEventsStream,
		Durable:        cfg.ConsumerName,
		FilterSubject:  cfg.UserEventsSubject,
		FetchMaxWait:   cfg.FetchMaxWait,
		HandlerTimeout: cfg.HandlerTimeout,
	}, ingest.Handle)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			log.Errorf("user events consumer stopped: %s", err)
			stop()
		}
	}()

	// game commands
	b := broker.NewBroker(n.Conn, games, ledger, cfg.HandlerTimeout)
	sub, err := b.QueueSubscribeCommands(cfg.CommandSubject, "gamesvc")
	if err != nil {
		log.Fatalf("Error: unable to subscribe to queue %v", err)
	}
	log.Infof("answering game commands on %s", cfg.CommandSubject)

	// Setup router
	r := chi.NewRouter()
	c := configs.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(configs.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(SERVICE_NAME, st, games, ledger, auditLog)
	h.InitAuth(cfg.JWTSecretKey)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		log.Warnf("command subscription drain: %s", err)
	}
	<-consumerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s service shutdown failed: %+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
