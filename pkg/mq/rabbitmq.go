package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"translation-service/pkg/job"
)

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

const (
	JobsExchange    = "translate.exchange"
	DLXExchange     = "translate.dlx"
	RetryExchange   = "translate.retry.exchange"
	DeadLetterQueue = "translate.dead_letter.queue"
)

// retryDelays are the TTL ladder for re-enqueued attempts.
var retryDelays = []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute}

// RetryDelay picks the re-enqueue delay for a given attempt number (1-based).
func RetryDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return retryDelays[0]
	case attempt == 2:
		return retryDelays[1]
	default:
		return retryDelays[2]
	}
}

func New(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Client{conn: conn, ch: ch}, nil
}

// SetupTopology declares all necessary exchanges and queues. Idempotent.
// Priority between tiers is purely structural: one durable queue per tier,
// each drained by its own fixed-size worker pool. A lower tier never preempts
// a higher one.
func (c *Client) SetupTopology(tiers []job.Tier) error {
	// Main exchange for jobs
	if err := c.ch.ExchangeDeclare(JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	// Dead-letter exchange
	if err := c.ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	// Retry exchange
	if err := c.ch.ExchangeDeclare(RetryExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	// Dead-letter queue
	_, err := c.ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return err
	}

	// One work queue per tier
	for _, tier := range tiers {
		queueName := QueueName(tier)
		_, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DLXExchange, // exhausted deliveries go to DLX
		})
		if err != nil {
			return err
		}
		if err := c.ch.QueueBind(queueName, string(tier), JobsExchange, false, nil); err != nil {
			return err
		}
	}

	// Retry queues with TTL; after the TTL, messages dead-letter back into
	// the main jobs exchange using the per-message routing key.
	for _, delay := range retryDelays {
		queueName := fmt.Sprintf("translate.retry.queue.%ds", int(delay.Seconds()))
		routingKey := fmt.Sprintf("retry.%ds", int(delay.Seconds()))
		_, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    JobsExchange,
			"x-message-ttl":             delay.Milliseconds(),
			"x-dead-letter-routing-key": "", // set per-message
		})
		if err != nil {
			return err
		}
		if err := c.ch.QueueBind(queueName, routingKey, RetryExchange, false, nil); err != nil {
			return err
		}
	}

	return nil
}

func QueueName(tier job.Tier) string {
	return fmt.Sprintf("translate.queue.%s", tier)
}

// PublishJob routes a job message to its tier queue.
func (c *Client) PublishJob(ctx context.Context, msg job.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.ch.PublishWithContext(ctx,
		JobsExchange,     // exchange
		string(msg.Tier), // routing key (matches tier queue binding)
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

// PublishToRetry parks a job message on a TTL queue; after the delay it is
// routed back to its tier queue for another full attempt.
func (c *Client) PublishToRetry(ctx context.Context, msg job.Message, delay time.Duration) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	routingKey := fmt.Sprintf("retry.%ds", int(delay.Seconds()))
	return c.ch.PublishWithContext(ctx,
		RetryExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			// Where RabbitMQ routes the message after the TTL expires
			Headers: amqp.Table{"x-dead-letter-routing-key": string(msg.Tier)},
		})
}

func (c *Client) Consume(tier job.Tier) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(
		QueueName(tier),
		"",    // consumer
		false, // auto-ack is false. We will manually ack.
		false,
		false,
		false,
		nil,
	)
}

// Ping reports whether the broker connection is still open.
func (c *Client) Ping() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}
