package broker

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/comm"
)

// GamesDestination receives every game projection published by the game
// service.
const GamesDestination = "/topic/games"

type deliverer interface {
	Deliver(destination string, frame []byte) int
}

// Broker feeds NATS traffic to the connected sockets.
type Broker struct {
	Conn *nats.Conn
	hub  deliverer
}

func NewBroker(conn *nats.Conn, hub deliverer) *Broker {
	return &Broker{
		Conn: conn,
		hub:  hub,
	}
}

// Subscribe uses a plain subscription: every gateway instance has its own
// sockets and must see every message.
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	return b.Conn.Subscribe(topic, func(msg *nats.Msg) {
		b.handleNotification(msg.Data)
	})
}

// SubscribeGameEvents relays the game projections to GamesDestination.
func (b *Broker) SubscribeGameEvents() ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	for _, topic := range []string{comm.TopicGameCreated, comm.TopicGameStatusChanged} {
		sub, err := b.Conn.Subscribe(topic, func(msg *nats.Msg) {
			b.handleGameEvent(msg.Data)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (b *Broker) handleNotification(data []byte) {
	var n comm.Notification
	if err := json.Unmarshal(data, &n); err != nil || n.Destination == "" {
		log.Errorf("Error malformed notification: %v", err)
		return
	}
	count := b.hub.Deliver(n.Destination, data)
	log.Debugf("notification for %s delivered to %d sockets", n.Destination, count)
}

func (b *Broker) handleGameEvent(data []byte) {
	frame, err := json.Marshal(comm.Notification{Destination: GamesDestination, Payload: data})
	if err != nil {
		log.Errorf("Error wrapping game event: %s", err)
		return
	}
	b.hub.Deliver(GamesDestination, frame)
}
