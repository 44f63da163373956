package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PriceSubscriber subscribes to the NATS JetStream price subject and feeds
// raw updates into the orchestrator via priceChan. NATS is the primary
// ingestion surface; the poller that produces these messages lives outside
// this process.
type PriceSubscriber struct {
	js        jetstream.JetStream
	priceChan chan<- RawPrice
	consumers []jetstream.ConsumeContext
}

// RawPrice is the undecoded feed message, ready for the shell to parse and
// normalize before it touches battle state.
type RawPrice struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // ACK after the update is queued for processing
	NakFunc  func() // NAK on failure (will be redelivered)
}

func NewPriceSubscriber(js jetstream.JetStream, priceChan chan<- RawPrice) *PriceSubscriber {
	return &PriceSubscriber{
		js:        js,
		priceChan: priceChan,
	}
}

// Subscribe creates the durable JetStream consumer for the price subject.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "ARENA_PRICES", jetstream.ConsumerConfig{
		Durable:       "arena-prices",
		FilterSubject: "arena.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawPrice{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { msg.Ack() },
			NakFunc:  func() { msg.Nak() },
		}

		select {
		case ps.priceChan <- raw:
			// Queued for processing
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumers = append(ps.consumers, consumerContext)
	log.Printf("INFO: subscribed to arena.prices.> (consumer=arena-prices)")

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "ARENA_PRICES",
			Subjects:  []string{"arena.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "ARENA_EVENTS",
			Subjects:  []string{"arena.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS price subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
