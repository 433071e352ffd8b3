package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mindsignal/pairing/internal/metrics"
	redisclient "github.com/mindsignal/pairing/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type topic struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans session events out to connected hosts. Events travel through Redis
// pub/sub so a claim handled by one instance reaches a host streaming from another.
type Broker struct {
	redis   *redisclient.Client
	metrics *metrics.Metrics
	topics  map[string]*topic // sessionID -> subscribers
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client, m *metrics.Metrics) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		metrics: m,
		topics:  make(map[string]*topic),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	t, ok := b.topics[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		t = &topic{clients: make(map[*Client]bool), cancel: cancel}
		b.topics[sessionID] = t
		ready := make(chan struct{})
		go b.subscribeToRedis(ctx, sessionID, ready)
		<-ready
	}
	t.clients[client] = true
	clientCount := len(t.clients)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.StreamClients.Inc()
	}

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[client.SessionID]
	if !ok || !t.clients[client] {
		return
	}

	delete(t.clients, client)
	close(client.Done)
	if len(t.clients) == 0 {
		t.cancel()
		delete(b.topics, client.SessionID)
	}

	if b.metrics != nil {
		b.metrics.StreamClients.Dec()
	}

	log.Info().
		Str("sessionId", client.SessionID).
		Int("clientCount", len(t.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

// subscribeToRedis closes ready once the subscription is confirmed so an event
// published right after Subscribe returns is not lost.
func (b *Broker) subscribeToRedis(ctx context.Context, sessionID string, ready chan struct{}) {
	channel := redisclient.SessionChannel(sessionID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis pubsub subscribe failed")
	}
	close(ready)

	log.Debug().
		Str("sessionId", sessionID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(sessionID, event)
		}
	}
}

func (b *Broker) broadcast(sessionID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[sessionID]
	if !ok {
		return
	}

	for client := range t.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.topics {
		for client := range t.clients {
			close(client.Done)
			if b.metrics != nil {
				b.metrics.StreamClients.Dec()
			}
		}
	}
	b.topics = make(map[string]*topic)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[sessionID]; ok {
		return len(t.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, t := range b.topics {
		total += len(t.clients)
	}
	return total
}
