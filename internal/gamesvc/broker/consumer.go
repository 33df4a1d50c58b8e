package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"
)

// HandlerFunc processes one message body. A returned error asks the stream
// for redelivery; nil acknowledges the message.
type HandlerFunc func(ctx context.Context, data []byte) error

type ConsumerConfig struct {
	Stream         string
	Durable        string
	FilterSubject  string
	FetchBatch     int
	FetchMaxWait   time.Duration
	HandlerTimeout time.Duration
	MaxDeliver     int
}

// Consumer pulls from a durable JetStream consumer and hands every message
// to its handler, one at a time and in stream order.
type Consumer struct {
	js     jetstream.JetStream
	cfg    ConsumerConfig
	handle HandlerFunc
}

// ackable is the part of jetstream.Msg the loop needs.
type ackable interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
}

func NewConsumer(js jetstream.JetStream, cfg ConsumerConfig, handle HandlerFunc) *Consumer {
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 10
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 5 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	return &Consumer{js: js, cfg: cfg, handle: handle}
}

// Run blocks until ctx is done. Fetch and handler errors never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Durable, err)
	}

	logger := log.WithFields(log.Fields{"stream": c.cfg.Stream, "consumer": c.cfg.Durable, "subject": c.cfg.FilterSubject})
	logger.Info("event consumer started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("event consumer stopped")
			return nil
		default:
		}

		batch, err := consumer.Fetch(c.cfg.FetchBatch, jetstream.FetchMaxWait(c.cfg.FetchMaxWait))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Warnf("fetch messages: %s", err)
			sleep(ctx, time.Second)
			continue
		}

		for msg := range batch.Messages() {
			c.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && ctx.Err() == nil {
			logger.Debugf("fetch batch ended: %s", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg ackable) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	if err := c.handle(hctx, msg.Data()); err != nil {
		log.WithField("subject", msg.Subject()).Errorf("handle message failed, requesting redelivery: %s", err)
		if err := msg.Nak(); err != nil {
			log.Warnf("nak: %s", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		log.Warnf("ack: %s", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
