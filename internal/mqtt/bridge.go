package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Bridge is an events.Consumer that forwards every event to the broker.
type Bridge struct {
	client  Client
	prefix  string
	timeout time.Duration
	log     logger.Logger
}

var _ events.Consumer = (*Bridge)(nil)

// NewBridge returns a bridge publishing under the topic prefix.
func NewBridge(c Client, prefix string, publishTimeout time.Duration) *Bridge {
	if publishTimeout <= 0 {
		publishTimeout = DefaultConfig().PublishTimeout
	}
	return &Bridge{
		client:  c,
		prefix:  strings.TrimSuffix(prefix, "/"),
		timeout: publishTimeout,
		log:     GetLogger(),
	}
}

// Name implements events.Consumer.
func (b *Bridge) Name() string { return "mqtt" }

// Topic returns the topic an event type is published on.
func (b *Bridge) Topic(t events.Type) string {
	if b.prefix == "" {
		return string(t)
	}
	return b.prefix + "/" + string(t)
}

// Consume publishes the event as JSON. The broadcaster logs and counts the
// returned error; it never reaches the write path.
func (b *Bridge) Consume(e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	topic := b.Topic(e.Type)
	if err := b.client.Publish(ctx, topic, payload); err != nil {
		b.log.Warn("failed to publish event",
			logger.String("topic", topic),
			logger.Uint64("seq", e.Seq),
			logger.Error(err))
		return err
	}
	return nil
}
