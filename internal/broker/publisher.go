package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

// channelPublisher is the part of *amqp.Channel the publisher uses.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends chat events to the delivery queue.
type Publisher struct {
	mu     sync.Mutex
	ch     channelPublisher
	queue  string
	logger *zap.Logger
}

// NewPublisher opens a channel on conn and declares the delivery queue.
func NewPublisher(conn *amqp.Connection, queue string, logger *zap.Logger) (*Publisher, *amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	return newPublisher(ch, queue, logger), ch, nil
}

func newPublisher(ch channelPublisher, queue string, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, queue: queue, logger: logger}
}

// For returns a Delivery that publishes events for chatID.
func (p *Publisher) For(chatID int64) domain.Delivery {
	return &chatPublisher{publisher: p, chatID: chatID}
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// amqp channels must not be used for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}

	p.logger.Debug("published event",
		zap.Int64("chat_id", ev.ChatID),
		zap.String("kind", ev.Kind),
		zap.Int("size", len(body)),
	)
	return nil
}

type chatPublisher struct {
	publisher *Publisher
	chatID    int64
}

func (c *chatPublisher) Reply(ctx context.Context, text string) error {
	return c.publisher.publish(ctx, Event{ChatID: c.chatID, Kind: EventReply, Text: text})
}

func (c *chatPublisher) SendDocument(ctx context.Context, data []byte, name string) error {
	return c.publisher.publish(ctx, Event{ChatID: c.chatID, Kind: EventDocument, Name: name, Content: data})
}

func (c *chatPublisher) SendPhoto(ctx context.Context, data []byte, caption string) error {
	return c.publisher.publish(ctx, Event{ChatID: c.chatID, Kind: EventPhoto, Caption: caption, Content: data})
}

var _ domain.Delivery = (*chatPublisher)(nil)
