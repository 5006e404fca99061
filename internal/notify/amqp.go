package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
)

// Publisher is the part of *amqp.Channel the AMQP notifier uses
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes events to a durable topic exchange
type AMQP struct {
	conn      *amqp.Connection
	publisher Publisher
	exchange  string
}

// DialAMQP connects to RabbitMQ and declares the events exchange
func DialAMQP(cfg config.AMQPConfig) (*AMQP, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQP{conn: conn, publisher: channel, exchange: cfg.Exchange}, nil
}

// NewAMQP creates a notifier on an existing publisher
func NewAMQP(publisher Publisher, exchange string) *AMQP {
	return &AMQP{publisher: publisher, exchange: exchange}
}

// Name implements Notifier
func (a *AMQP) Name() string {
	return "amqp"
}

// Notify implements Notifier. The routing key is the event name.
func (a *AMQP) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = a.publisher.PublishWithContext(ctx,
		a.exchange,
		event.Event,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    event.Data.BatchID,
			Headers:      amqp.Table{"user_id": event.Data.UserID},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the connection when it was opened by DialAMQP
func (a *AMQP) Close() error {
	if ch, ok := a.publisher.(*amqp.Channel); ok {
		ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
