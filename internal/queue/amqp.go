package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/mezamarco14/resu-sistem/internal/logger"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes payloads as persistent JSON messages to a durable queue
// named after the topic, optionally prefixed.
type AMQPQueue struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         *amqp.Channel
	prefix     string
	declared   map[string]bool
	log        *logger.Logger
	MaxRetries int
}

// DialAMQP connects to the broker.
func DialAMQP(url, prefix string, log *logger.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		prefix:     prefix,
		declared:   make(map[string]bool),
		log:        log.WithComponent("amqp"),
		MaxRetries: 3,
	}, nil
}

// QueueName maps a topic to its broker queue.
func (q *AMQPQueue) QueueName(topic string) string {
	if q.prefix == "" {
		return topic
	}
	return q.prefix + "." + topic
}

// declare must be called with q.mu held.
func (q *AMQPQueue) declare(name string) error {
	if q.declared[name] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.publish(q.QueueName(topic), body, 0)
}

func (q *AMQPQueue) publish(name string, body []byte, retries int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(name); err != nil {
		return err
	}
	return q.ch.Publish("", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: retries},
		Body:         body,
	})
}

// Subscribe consumes the topic's queue in the background. The handler gets the
// raw JSON body. Failed messages are re-published with an incremented retry
// header up to MaxRetries, then dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	name := q.QueueName(topic)

	q.mu.Lock()
	if err := q.declare(name); err != nil {
		q.mu.Unlock()
		return err
	}
	msgs, err := q.ch.Consume(
		name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.handleDelivery(name, d, handler)
		}
		q.log.Info().Str("queue", name).Msg("consumer stopped")
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(name string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if int(retries) >= q.MaxRetries {
		q.log.Error().Err(err).Str("queue", name).Int32("retries", retries).Msg("dropping message")
		d.Ack(false)
		return
	}

	q.log.Warn().Err(err).Str("queue", name).Int32("retries", retries).Msg("message failed, requeueing")
	if perr := q.publish(name, d.Body, retries+1); perr != nil {
		q.log.Error().Err(perr).Msg("requeue failed")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch != nil {
		q.ch.Close()
	}
	return q.conn.Close()
}
