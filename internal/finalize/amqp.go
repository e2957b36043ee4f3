package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

const publishTimeout = 5 * time.Second

// Message is the body of a finalize request on the broker.
type Message struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
}

// amqpChannel is the channel subset used by the publisher and consumer.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

func declareExchange(ch amqpChannel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// Publisher hands finalize requests to the broker.
type Publisher struct {
	channel    amqpChannel
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

// NewPublisher opens a channel on conn and declares the exchange.
func NewPublisher(conn *amqp.Connection, exchange, routingKey string, logger *infra.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return newPublisher(ch, exchange, routingKey, logger)
}

func newPublisher(ch amqpChannel, exchange, routingKey string, logger *infra.Logger) (*Publisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}
	p := &Publisher{channel: ch, exchange: exchange, routingKey: routingKey, logger: zerolog.Nop()}
	if logger != nil {
		p.logger = infra.Component(*logger, "finalize-publisher")
	}
	return p, nil
}

// Finalize publishes the request. Publish failures are logged; the video
// stays pending and the job can be reopened.
func (p *Publisher) Finalize(videoID, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, Message{VideoID: videoID, JobID: jobID}); err != nil {
		p.logger.Error().Err(err).Str("video_id", videoID).Str("job_id", jobID).Msg("finalize: publish failed")
	}
}

// Publish sends one message as persistent JSON.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close closes the channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// Consumer feeds broker messages to a Runner one at a time.
type Consumer struct {
	channel amqpChannel
	queue   string
	runner  Runner
	logger  zerolog.Logger
}

// NewConsumer declares and binds the queue and sets prefetch to one.
func NewConsumer(conn *amqp.Connection, exchange, routingKey, queue string, runner Runner, logger *infra.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return newConsumer(ch, exchange, routingKey, queue, runner, logger)
}

func newConsumer(ch amqpChannel, exchange, routingKey, queue string, runner Runner, logger *infra.Logger) (*Consumer, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("amqp bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	c := &Consumer{channel: ch, queue: queue, runner: runner, logger: zerolog.Nop()}
	if logger != nil {
		c.logger = infra.Component(*logger, "finalize-consumer")
	}
	return c, nil
}

// Start consumes until ctx is done or the broker closes the channel.
// Malformed messages are dropped. A run always settles the video, so
// processed messages are acked whatever Run returns.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Msg("finalize: consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("finalize: consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("finalize: broker channel closed")
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var body Message
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.VideoID == "" || body.JobID == "" {
		c.logger.Warn().Err(err).Bytes("body", msg.Body).Msg("finalize: dropping malformed message")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error().Err(nackErr).Msg("finalize: nack failed")
		}
		return
	}
	if err := c.runner.Run(ctx, body.VideoID, body.JobID); err != nil {
		c.logger.Debug().Err(err).Str("video_id", body.VideoID).Msg("finalize: run ended with error")
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error().Err(err).Str("video_id", body.VideoID).Msg("finalize: ack failed")
	}
}

// Close closes the channel.
func (c *Consumer) Close() error {
	return c.channel.Close()
}
