package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"

	topicPrefix = "/topic/"
)

var (
	errUnknownMessage = errors.New("unknown message type")
	errBadDestination = errors.New("destination must start with /topic/")
	errUnknownSocket  = errors.New("unknown socket")
)

// ClientMessage is what browsers send over the socket.
type ClientMessage struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

type writer interface {
	WriteMessage(messageType int, data []byte) error
}

// client serializes writes; a websocket connection allows one writer.
type client struct {
	mu   sync.Mutex
	conn writer
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ws tracks connected sockets and the destinations each one listens to.
type Ws struct {
	connMap sync.Map // socketId -> *client

	mu     sync.RWMutex
	topics map[string]map[string]bool // destination -> socketIds
}

func NewWs() *Ws {
	return &Ws{topics: map[string]map[string]bool{}}
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *ClientMessage) error {
	switch message.Type {
	case MsgSubscribe:
		return s.Subscribe(socketId, message.Destination)
	case MsgUnsubscribe:
		s.Unsubscribe(socketId, message.Destination)
		return nil
	default:
		log.Warnf("unknown event received: %s", message.Type)
		return errUnknownMessage
	}
}

func (s *Ws) StoreConnection(socketId string, conn writer) {
	s.connMap.Store(socketId, &client{conn: conn})
}

func (s *Ws) Subscribe(socketId, destination string) error {
	if !strings.HasPrefix(destination, topicPrefix) {
		return errBadDestination
	}
	if _, ok := s.connMap.Load(socketId); !ok {
		return errUnknownSocket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics[destination] == nil {
		s.topics[destination] = map[string]bool{}
	}
	s.topics[destination][socketId] = true
	log.Debugf("socket %s subscribed to %s", socketId, destination)
	return nil
}

func (s *Ws) Unsubscribe(socketId, destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked(socketId, destination)
}

func (s *Ws) unsubscribeLocked(socketId, destination string) {
	sockets := s.topics[destination]
	delete(sockets, socketId)
	if len(sockets) == 0 {
		delete(s.topics, destination)
	}
}

// HandleDisconnect forgets the socket and all its subscriptions.
func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)

	s.mu.Lock()
	defer s.mu.Unlock()
	for dest := range s.topics {
		s.unsubscribeLocked(socketId, dest)
	}
}

func (s *Ws) GetTopicSockets(destination string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sockets := make([]string, 0, len(s.topics[destination]))
	for id := range s.topics[destination] {
		sockets = append(sockets, id)
	}
	return sockets
}

// Deliver sends the frame to every socket subscribed to destination and
// returns how many received it.
func (s *Ws) Deliver(destination string, frame []byte) int {
	delivered := 0
	for _, socketId := range s.GetTopicSockets(destination) {
		v, ok := s.connMap.Load(socketId)
		if !ok {
			continue
		}
		if err := v.(*client).write(frame); err != nil {
			log.Warnf("write to socket %s failed: %s", socketId, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Reply writes a frame to a single socket.
func (s *Ws) Reply(socketId string, frame []byte) {
	v, ok := s.connMap.Load(socketId)
	if !ok {
		return
	}
	if err := v.(*client).write(frame); err != nil {
		log.Warnf("reply to socket %s failed: %s", socketId, err)
	}
}

// ErrorFrame is sent back to a client whose message was rejected.
func ErrorFrame(err error) []byte {
	data, _ := json.Marshal(map[string]string{"type": "error", "error": err.Error()})
	return data
}
