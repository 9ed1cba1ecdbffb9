// Package amqp fans data_changed events out through RabbitMQ so writes made
// outside this process (other instances, external imports announced with
// finary-notify) reach the dashboards held here.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"finary/internal/events"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

var errChannelClosed = errors.New("message channel closed")

// QueueMode selects how consumers attach to the exchange.
type QueueMode string

const (
	// QueueInstance gives every consumer its own exclusive, auto-deleted
	// queue, so each running server sees every message.
	QueueInstance QueueMode = "instance"
	// QueueShared binds one durable queue that consumers compete on. Each
	// message reaches a single server; messages survive broker restarts.
	QueueShared QueueMode = "shared"
)

// IsValid reports whether m is a known queue mode.
func (m QueueMode) IsValid() bool {
	return m == QueueInstance || m == QueueShared
}

// role picks one of the client's channels. Publishing and consuming never
// share a channel, so a failed publish cannot tear down the consumer.
type role int

const (
	rolePublish role = iota
	roleConsume
)

func (r role) String() string {
	if r == roleConsume {
		return "consume"
	}
	return "publish"
}

// channel is the part of *amqp091.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	IsClosed() bool
	Close() error
}

type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp091.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	return c.Connection.Channel()
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type Client struct {
	url          string
	exchangeName string
	queueName    string // routing key, and the queue name in shared mode
	mode         QueueMode
	dial         func(url string) (connection, error)

	mu            sync.Mutex
	conn          connection
	publisher     channel
	consumer      channel
	consumerQueue string

	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewClient connects to the broker and declares the exchange. queueName is
// the routing key every message carries; in shared mode it also names the
// durable queue.
func NewClient(url, exchangeName, queueName string, mode QueueMode) (*Client, error) {
	client := newClient(url, exchangeName, queueName, mode, dialAMQP)

	if _, _, err := client.ensureChannel(rolePublish); err != nil {
		return nil, err
	}
	return client, nil
}

func newClient(url, exchangeName, queueName string, mode QueueMode, dial func(string) (connection, error)) *Client {
	if !mode.IsValid() {
		mode = QueueInstance
	}
	return &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		mode:         mode,
		dial:         dial,
	}
}

func (c *Client) slot(r role) *channel {
	if r == roleConsume {
		return &c.consumer
	}
	return &c.publisher
}

// ensureChannel returns the open channel for r and, for consumers, the queue
// to read. The connection is dialed again if it was lost.
func (c *Client) ensureChannel(r role) (channel, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		c.closeLocked()
		conn, err := c.dial(c.url)
		if err != nil {
			return nil, "", fmt.Errorf("dial AMQP: %w", err)
		}
		c.conn = conn
	}

	slot := c.slot(r)
	if *slot != nil && !(*slot).IsClosed() {
		return *slot, c.queueFor(r), nil
	}
	if *slot != nil {
		(*slot).Close()
		*slot = nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, "", fmt.Errorf("open %s channel: %w", r, err)
	}

	queue, err := c.setup(ch, r)
	if err != nil {
		ch.Close()
		return nil, "", fmt.Errorf("setup %s topology: %w", r, err)
	}

	*slot = ch
	if r == roleConsume {
		c.consumerQueue = queue
	}
	return ch, queue, nil
}

func (c *Client) queueFor(r role) string {
	if r == roleConsume {
		return c.consumerQueue
	}
	return ""
}

// queueSpec describes the queue r declares. Publishers in instance mode
// declare none: an unconsumed durable queue would only pile up messages.
type queueSpec struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

func (c *Client) queueSpec(r role) (queueSpec, bool) {
	if c.mode == QueueShared {
		return queueSpec{name: c.queueName, durable: true}, true
	}
	if r == rolePublish {
		return queueSpec{}, false
	}
	// Server-named, gone with the connection.
	return queueSpec{autoDelete: true, exclusive: true}, true
}

func (c *Client) setup(ch channel, r role) (string, error) {
	// Declare exchange
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare exchange: %w", err)
	}

	spec, ok := c.queueSpec(r)
	if !ok {
		return "", nil
	}

	// Declare queue
	q, err := ch.QueueDeclare(
		spec.name,       // name
		spec.durable,    // durable
		spec.autoDelete, // delete when unused
		spec.exclusive,  // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = ch.QueueBind(
		q.Name,         // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("bind queue: %w", err)
	}

	return q.Name, nil
}

// PublishDataChanged publishes e stamped with origin.
func (c *Client) PublishDataChanged(ctx context.Context, e events.Event, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, skipping publish")
	}

	msg := NewDataChangedMessage(e, origin)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, _, err := c.ensureChannel(rolePublish)
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reset(rolePublish)
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	slog.DebugContext(ctx, "Published data changed message",
		"component", "amqp",
		"user_id", msg.UserID,
		"source", msg.Source,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// ConsumeDataChanged delivers messages to handler until ctx is done,
// reconnecting with exponential backoff when the broker goes away.
func (c *Client) ConsumeDataChanged(ctx context.Context, handler func(context.Context, *DataChangedMessage) error) error {
	attempt := 0
	for {
		err := c.consumeOnce(ctx, handler, func() { attempt = 0 })
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "component", "amqp", "reason", ctx.Err())
			return ctx.Err()
		}
		if !isConnectionError(err) && !errors.Is(err, errChannelClosed) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP consumer disconnected, retrying",
			"component", "amqp",
			"error", err,
			"attempt", attempt,
			"backoff", wait)
		c.reset(roleConsume)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, *DataChangedMessage) error, connected func()) error {
	ch, queue, err := c.ensureChannel(roleConsume)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	connected()

	slog.InfoContext(ctx, "Started consuming data changed messages",
		"component", "amqp",
		"queue", queue,
		"mode", string(c.mode))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errChannelClosed
			}

			msg, err := DataChangedMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "component", "amqp", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle message",
					"component", "amqp",
					"error", err,
					"user_id", msg.UserID,
					"source", msg.Source)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

// isCircuitOpen reports whether publishes should be skipped. After
// openTimeout the breaker lets one attempt through (half-open).
func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()

	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)

	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()

	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"eof",
		"broken pipe",
		"use of closed network connection",
		"dial amqp",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// reset drops r's channel after an error. A dead connection takes both
// channels with it; a live one keeps serving the other role.
func (c *Client) reset(r role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		c.closeLocked()
		return
	}
	slot := c.slot(r)
	if *slot != nil {
		(*slot).Close()
		*slot = nil
	}
}

func (c *Client) closeLocked() {
	for _, slot := range []*channel{&c.publisher, &c.consumer} {
		if *slot != nil {
			(*slot).Close()
			*slot = nil
		}
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, slot := range []*channel{&c.publisher, &c.consumer} {
		if *slot != nil {
			(*slot).Close()
			*slot = nil
		}
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
