package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards domain events to a topic exchange using the event
// type as routing key. A closed channel is redialled once per publish.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     io.Closer
	ch       Channel
	exchange string
	logger   *zap.Logger
	redial   func() (io.Closer, Channel, error)
}

// DialAMQP connects to the broker and declares the exchange. timeout bounds
// every dial, including reconnects.
func DialAMQP(url, exchange string, timeout time.Duration, logger *zap.Logger) (*AMQPPublisher, error) {
	dial := func() (io.Closer, Channel, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
		if err != nil {
			return nil, nil, fmt.Errorf("dial amqp: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open amqp channel: %w", err)
		}
		if err := declareExchange(ch, exchange); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return conn, ch, nil
	}

	conn, ch, err := dial()
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger, redial: dial}, nil
}

// NewAMQPPublisher declares a durable topic exchange on ch.
func NewAMQPPublisher(ch Channel, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, logger: logger}, nil
}

func declareExchange(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Handle is an EventHandler that publishes the event as JSON.
func (p *AMQPPublisher) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.Type),
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg)
	if err != nil && p.redial != nil && connectionLost(err) {
		if rerr := p.reconnect(); rerr != nil {
			err = errors.Join(err, rerr)
		} else {
			err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg)
		}
	}
	if err != nil {
		p.logger.Warn("amqp publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// reconnect replaces the channel and connection. Callers hold p.mu.
func (p *AMQPPublisher) reconnect() error {
	_ = p.ch.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, ch, err := p.redial()
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("amqp connection re-established", zap.String("exchange", p.exchange))
	return nil
}

func connectionLost(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr)
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
