package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
)

// AMQPMirror publishes every hub event to a durable AMQP queue so
// off-process consumers can follow job lifecycles without holding an HTTP
// event stream open.
type AMQPMirror struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	logger  observability.Logger
}

// NewAMQPMirror connects to the broker and declares the event queue.
func NewAMQPMirror(cfg config.AMQPConfig, logger observability.Logger) (*AMQPMirror, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // auto-delete
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", cfg.Queue, err)
	}

	logger.Info("AMQP event mirror initialized", "queue", cfg.Queue)

	return &AMQPMirror{
		conn:    conn,
		channel: channel,
		queue:   cfg.Queue,
		logger:  logger,
	}, nil
}

// Publish sends one event as a persistent JSON message.
func (m *AMQPMirror) Publish(ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.channel.PublishWithContext(
		ctx,
		"",      // default exchange
		m.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (m *AMQPMirror) Close() error {
	if m.channel != nil {
		m.channel.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
