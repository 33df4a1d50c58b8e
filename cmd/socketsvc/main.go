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
	natscli "github.com/avvvet/gameview-services/internal/nats"
	"github.com/avvvet/gameview-services/internal/socketsvc/broker"
	"github.com/avvvet/gameview-services/internal/socketsvc/config"
	"github.com/avvvet/gameview-services/internal/socketsvc/handlers"
	"github.com/avvvet/gameview-services/internal/socketsvc/routes"
	"github.com/avvvet/gameview-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

var instanceId string

func init() {
	configs.LoadEnv(SERVICE_NAME)
	instanceId = configs.CreateUniqueInstance(SERVICE_NAME)
	configs.Logging(SERVICE_NAME + "_service")
}

// socket pushes admin notifications and game projections to browsers.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to NATS
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
	if err != nil {
		log.Fatalf("Error: unable to connect to NATS server %v", err)
	}
	defer n.Close()
	log.Infof("NATS connection established successfully %s", n.Url)

	s := ws.NewWs()

	b := broker.NewBroker(n.Conn, s)
	notifySub, err := b.Subscribe(cfg.NotifySubject)
	if err != nil {
		log.Fatalf("Error: unable to subscribe to %s %v", cfg.NotifySubject, err)
	}
	gameSubs, err := b.SubscribeGameEvents()
	if err != nil {
		log.Fatalf("Error: unable to subscribe to game events %v", err)
	}

	// Setup router
	r := chi.NewRouter()
	c := configs.CORS()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(configs.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	h := handlers.NewHandler(s, cfg.CheckOrigin)
	routes.SetRoutes(r, h, routes.NewAuth(cfg.JWTSecretKey))

	// no write timeout, sockets are long lived
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	<-ctx.Done()

	_ = notifySub.Unsubscribe()
	for _, sub := range gameSubs {
		_ = sub.Unsubscribe()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s service shutdown failed: %+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
