package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	configs "github.com/avvvet/gameview-services/configs"
	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/bootstrap"
	"github.com/avvvet/gameview-services/internal/gamesvc/broker"
	"github.com/avvvet/gameview-services/internal/gamesvc/config"
	"github.com/avvvet/gameview-services/internal/gamesvc/notify"
	"github.com/avvvet/gameview-services/internal/gamesvc/service"
	natscli "github.com/avvvet/gameview-services/internal/nats"
)

const SERVICE_NAME = "ctl"

var instanceId string

func init() {
	configs.LoadEnv(SERVICE_NAME)
	instanceId = configs.CreateUniqueInstance(SERVICE_NAME)
	configs.Logging(SERVICE_NAME + "_service")
}

// ctl runs the background work of the game service: the periodic
// reconciliation sweep and the game error alerts.
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
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
	if err != nil {
		log.Fatalf("Error: unable to connect to NATS server %v", err)
	}
	defer n.Close()
	log.Infof("NATS connection established successfully %s", n.Url)

	if err := broker.EnsureStreams(ctx, n.JS, cfg.GameEventsStream, cfg.UserEventsStream, cfg.UserEventsSubject); err != nil {
		log.Fatalf("Error: unable to ensure streams %v", err)
	}
	emitter := broker.NewEmitter(n.JS, cfg.PublishTimeout, cfg.PublishMaxRetries)

	replicas := service.NewReplicaService(st)
	if err := replicas.EnsureRoles(ctx); err != nil {
		log.Fatalf("Error: unable to seed roles %v", err)
	}
	games := service.NewGameService(st, emitter, auditLog, cfg.AverageIncludeActive)

	sweeper := service.NewReconcileService(st, replicas, emitter, auditLog, service.ReconcileOptions{
		BatchSize:   cfg.ReconcileBatchSize,
		CreateStubs: cfg.ReconcileCreateStubs,
		Republish:   cfg.ReconcileRepublish,
	})

	var sink notify.Sink = notify.NewNatsSink(n.Conn, cfg.NotifySubject, cfg.PublishTimeout)
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatIDs)
		if err != nil {
			// the push gateway still gets the alerts
			log.Errorf("Failed to initialize Telegram notifier: %v", err)
		} else {
			sink = notify.Fanout{sink, tg}
		}
	}
	alerter := notify.NewErrorAlerter(games, sink)
	alerts := broker.NewConsumer(n.JS, broker.ConsumerConfig{
		Stream:         cfg.GameEventsStream,
		Durable:        cfg.AlertConsumerName,
		FilterSubject:  comm.TopicGameErrorReported,
		FetchMaxWait:   cfg.FetchMaxWait,
		HandlerTimeout: cfg.HandlerTimeout,
	}, alerter.Handle)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Infof("reconciliation every %s, batch size %d", cfg.ReconcileInterval, cfg.ReconcileBatchSize)
		sweeper.Run(ctx, cfg.ReconcileInterval)
	}()
	go func() {
		defer wg.Done()
		if err := alerts.Run(ctx); err != nil {
			log.Errorf("game error consumer stopped: %s", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("%s service stopping", SERVICE_NAME)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infof("%s service gracefully stopped", SERVICE_NAME)
	case <-time.After(15 * time.Second):
		log.Warnf("%s service stopped before background work finished", SERVICE_NAME)
	}
}
