package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// HeaderKey carries the partition key (the game id) of an outbound event.
const HeaderKey = "Key"

type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type streamCreator interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Emitter publishes domain events to JetStream. Every attempt is bounded by
// the publish timeout; retries reuse the message id so the stream drops
// duplicates.
type Emitter struct {
	js          msgPublisher
	timeout     time.Duration
	maxRetries  int
	minInterval time.Duration
	maxInterval time.Duration
}

func NewEmitter(js msgPublisher, timeout time.Duration, maxRetries int) *Emitter {
	return &Emitter{
		js:          js,
		timeout:     timeout,
		maxRetries:  maxRetries,
		minInterval: 200 * time.Millisecond,
		maxInterval: 5 * time.Second,
	}
}

func (e *Emitter) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msgID := uuid.NewString()
	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(HeaderKey, key)
	msg.Header.Set(nats.MsgIdHdr, msgID)

	logger := log.WithFields(log.Fields{"topic": topic, "key": key, "msgId": msgID})

	err = e.attempt(ctx, msg)
	if err == nil {
		logger.Debug("event published")
		return nil
	}
	if e.maxRetries <= 0 {
		logger.Errorf("event publish failed: %s", err)
		return fmt.Errorf("%w: publish %s: %s", models.ErrTransientBroker, topic, err)
	}

	policy := backoff.Exponential(
		backoff.WithMinInterval(e.minInterval),
		backoff.WithMaxInterval(e.maxInterval),
		backoff.WithJitterFactor(0.1),
	)
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := policy.Start(bctx)

	retries := 0
	for retries < e.maxRetries && backoff.Continue(b) {
		retries++
		logger.Warnf("event publish failed, retry %d/%d: %s", retries, e.maxRetries, err)
		if err = e.attempt(ctx, msg); err == nil {
			logger.Debug("event published")
			return nil
		}
	}

	logger.Errorf("event publish gave up after %d retries: %s", retries, err)
	return fmt.Errorf("%w: publish %s: %s", models.ErrTransientBroker, topic, err)
}

func (e *Emitter) attempt(ctx context.Context, msg *nats.Msg) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	_, err := e.js.PublishMsg(ctx, msg)
	return err
}

// EnsureStreams creates the streams this service publishes to and consumes
// from when they do not exist yet.
func EnsureStreams(ctx context.Context, js streamCreator, gameStream, userStream, userSubject string) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       gameStream,
			Subjects:   []string{"event.>"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			Storage:    jetstream.FileStorage,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:      userStream,
			Subjects:  []string{userSubject},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			Storage:   jetstream.FileStorage,
		},
	}

	for _, cfg := range streams {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := js.CreateOrUpdateStream(ctx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
		log.Infof("stream %s ready for %v", cfg.Name, cfg.Subjects)
	}
	return nil
}

// Topics returns the outbound topics, for startup logging.
func Topics() []string {
	return []string{comm.TopicGameCreated, comm.TopicGameStatusChanged, comm.TopicGameErrorReported}
}
