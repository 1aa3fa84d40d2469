package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectionName   = "newsletter-engine"
)

// RabbitMQ owns the broker connection, redialing it on demand, and declares
// the dispatch topology on every channel it hands out.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(dialCtx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Healthy reports whether the broker connection is currently open.
func (r *RabbitMQ) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is closed")
	}
	return r.conn, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	if r.Healthy() {
		return nil
	}
	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if r.Healthy() {
		return nil
	}

	cfg := amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.NewConnectionProperties(),
	}
	cfg.Properties.SetClientConnectionName(connectionName)

	wait := reconnectBackoff
	for {
		newConn, err := amqp.DialConfig(r.url, cfg)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

// declareTopology declares the dispatch queue and its dead-letter route.
// Declarations are idempotent, so every new channel repeats them.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DispatchDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", DispatchDLQ, err)
	}
	if err := ch.QueueBind(DispatchDLQ, dispatchRoutingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", DispatchDLQ, err)
	}

	if _, err := ch.QueueDeclare(DispatchQueue, true, false, false, false, dispatchQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", DispatchQueue, err)
	}

	return nil
}

func dispatchQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": dispatchRoutingKey,
	}
}
