package broker

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/usecases"
)

// Handler runs chat commands.
type Handler interface {
	StartMessage() string
	Upload(ctx context.Context, chatID int64, source domain.Delivery, payload []byte, fileName string) (string, error)
	SetFormat(ctx context.Context, chatID int64, format string) (string, error)
	Rename(ctx context.Context, chatID int64, delivery domain.Delivery) usecases.RenameResult
	SendPreviews(ctx context.Context, chatID int64, delivery domain.Delivery) (int, error)
}

// Deliveries returns the Delivery for a chat.
type Deliveries interface {
	For(chatID int64) domain.Delivery
}

// Consumer reads commands from the upload queue one at a time.
type Consumer struct {
	ch         *amqp.Channel
	queue      string
	handler    Handler
	deliveries Deliveries
	logger     *zap.Logger
}

// NewConsumer opens a channel on conn, declares the queue and sets prefetch to 1.
func NewConsumer(conn *amqp.Connection, queue string, handler Handler, deliveries Deliveries, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	return &Consumer{
		ch:         ch,
		queue:      queue,
		handler:    handler,
		deliveries: deliveries,
		logger:     logger,
	}, nil
}

// Run consumes until ctx is done or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(
		c.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info("waiting for commands", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	if err := c.Handle(ctx, msg.Body); err != nil {
		c.logger.Error("rejecting command", zap.Error(err))
		// no requeue: a malformed command would loop forever
		if err := msg.Nack(false, false); err != nil {
			c.logger.Error("nack failed", zap.Error(err))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("ack failed", zap.Error(err))
	}
}

// Handle runs one encoded command. Only malformed commands return an error;
// failures of the command itself are reported to the chat.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	cmd, err := decodeCommand(body)
	if err != nil {
		return err
	}

	log := c.logger.With(zap.String("type", cmd.Type), zap.Int64("chat_id", cmd.ChatID))
	log.Debug("received command")

	chat := c.deliveries.For(cmd.ChatID)
	reply := func(text string) {
		if err := chat.Reply(ctx, text); err != nil {
			log.Error("failed to send reply", zap.Error(err))
		}
	}

	switch cmd.Type {
	case CommandStart:
		reply(c.handler.StartMessage())

	case CommandDocument:
		text, err := c.handler.Upload(ctx, cmd.ChatID, chat, cmd.FileContent, cmd.FileName)
		if err != nil {
			text = fmt.Sprintf("Error processing %s: %v", cmd.FileName, err)
		}
		reply(text)

	case CommandFormat:
		text, err := c.handler.SetFormat(ctx, cmd.ChatID, cmd.Format)
		if err != nil && !errors.Is(err, domain.ErrEmptyFormat) {
			text = fmt.Sprintf("Failed to save format: %v", err)
		}
		reply(text)

	case CommandRename:
		reply(c.handler.Rename(ctx, cmd.ChatID, chat).Message)

	case CommandThumbnails:
		if _, err := c.handler.SendPreviews(ctx, cmd.ChatID, chat); err != nil {
			log.Error("failed to send previews", zap.Error(err))
		}
	}
	return nil
}

// Close closes the consumer channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}
