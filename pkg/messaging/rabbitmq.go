package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/grigta/hotspot/pkg/logger"
)

const (
	reconnectAttempts = 5
	reconnectBackoff  = time.Second
)

var ErrNotConnected = errors.New("rabbitmq: not connected")

// Publisher is what services depend on; *RabbitMQ satisfies it.
type Publisher interface {
	PublishEvent(exchange, routingKey string, message interface{}) error
}

// RabbitMQ publishes JSON events onto durable topic exchanges and redials
// when the broker drops the connection.
type RabbitMQ struct {
	url       string
	exchanges []string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done chan struct{}
	once sync.Once
}

// NewRabbitMQ dials url and declares every exchange before returning.
func NewRabbitMQ(url string, exchanges ...string) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:       url,
		exchanges: exchanges,
		done:      make(chan struct{}),
	}

	closed, err := r.connect()
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to RabbitMQ", logger.Field{Key: "exchanges", Value: exchanges})

	go r.watch(closed)
	return r, nil
}

// connect dials, declares the topology and swaps in the new connection.
func (r *RabbitMQ) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, name := range r.exchanges {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare %s exchange: %w", name, err)
		}
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	r.conn, r.channel = conn, ch
	r.mu.Unlock()

	return closed, nil
}

func (r *RabbitMQ) watch(closed chan *amqp.Error) {
	for {
		select {
		case <-r.done:
			return
		case amqpErr, ok := <-closed:
			if !ok && amqpErr == nil {
				// Closed by us.
				select {
				case <-r.done:
					return
				default:
				}
			}
			logger.Warn("RabbitMQ connection lost, reconnecting", logger.Field{Key: "reason", Value: fmt.Sprint(amqpErr)})

			next, err := r.redial()
			if err != nil {
				logger.Error("Giving up on RabbitMQ", logger.Err(err))
				return
			}
			closed = next
		}
	}
}

func (r *RabbitMQ) redial() (chan *amqp.Error, error) {
	var lastErr error
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		closed, err := r.connect()
		if err == nil {
			logger.Info("Reconnected to RabbitMQ", logger.Field{Key: "attempt", Value: attempt})
			return closed, nil
		}
		lastErr = err
		logger.Error("Failed to reconnect to RabbitMQ",
			logger.Field{Key: "attempt", Value: attempt},
			logger.Err(err),
		)

		select {
		case <-r.done:
			return nil, ErrNotConnected
		case <-time.After(time.Duration(attempt) * reconnectBackoff):
		}
	}
	return nil, lastErr
}

// Publish sends message as a persistent JSON body.
func (r *RabbitMQ) Publish(exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return ErrNotConnected
	}

	return r.channel.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// PublishEvent wraps message in the common envelope before publishing.
func (r *RabbitMQ) PublishEvent(exchange, routingKey string, message interface{}) error {
	return r.Publish(exchange, routingKey, NewMessage(routingKey, message))
}

func (r *RabbitMQ) Close() error {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	if err := r.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Message is the envelope every published event travels in.
type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewMessage(msgType string, data interface{}) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  make(map[string]interface{}),
	}
}
