package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQSink publishes records to a durable topic exchange. The routing key
// is the configured prefix followed by the gas type (gas.readings.CO).
type RabbitMQSink struct {
	url        string
	exchange   string
	routingKey string
	logger     *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	isClosing bool
}

// NewRabbitMQSink connects and declares the exchange.
func NewRabbitMQSink(url, exchange, routingKey string, logger *zap.Logger) (*RabbitMQSink, error) {
	sink := &RabbitMQSink{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}

	if err := sink.connect(); err != nil {
		return nil, err
	}

	return sink, nil
}

// connect establishes connection to RabbitMQ and declares the exchange
func (r *RabbitMQSink) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.exchange))

	// Connect to RabbitMQ with retry
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ", zap.String("exchange", r.exchange))

	go r.handleReconnect(conn)

	return nil
}

// handleReconnect re-establishes the connection when the broker drops it
func (r *RabbitMQSink) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	r.channel = nil
	r.mu.Unlock()

	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))

		r.mu.Lock()
		closing = r.isClosing
		r.mu.Unlock()
		if closing {
			return
		}
		time.Sleep(5 * time.Second)
	}
}

func (r *RabbitMQSink) Name() string { return "rabbitmq" }

func (r *RabbitMQSink) Publish(ctx context.Context, rec *models.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return errors.New("rabbitmq channel not available")
	}

	err = channel.PublishWithContext(ctx,
		r.exchange,                           // exchange
		r.routingKey+"."+string(rec.GasType), // routing key
		false,                                // mandatory
		false,                                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.IngestedAt(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQSink) Close() error {
	r.mu.Lock()
	r.isClosing = true
	channel, conn := r.channel, r.conn
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
