package amqp

import (
	"context"
	"log/slog"
	"sync"

	"finary/internal/events"
	"finary/internal/metrics"
)

// Broker is the part of Client the bridge needs.
type Broker interface {
	PublishDataChanged(ctx context.Context, e events.Event, origin string) error
	ConsumeDataChanged(ctx context.Context, handler func(context.Context, *DataChangedMessage) error) error
}

var _ Broker = (*Client)(nil)

const forwardBuffer = 64

// Bridge joins a local bus to the broker. Events raised in this process are
// forwarded; messages from other origins are republished locally. Messages
// carrying our own origin are dropped so nothing loops.
type Bridge struct {
	broker Broker
	bus    events.Bus
	origin string

	queue chan events.Event
	wg    sync.WaitGroup
}

func NewBridge(broker Broker, bus events.Bus, origin string) *Bridge {
	return &Bridge{
		broker: broker,
		bus:    bus,
		origin: origin,
		queue:  make(chan events.Event, forwardBuffer),
	}
}

func (b *Bridge) Origin() string {
	return b.origin
}

// Start runs the bridge until ctx is done. It blocks; callers run it in a
// goroutine and wait for it to return during shutdown.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := b.bus.Subscribe(b.enqueue)
	defer unsubscribe()

	b.wg.Add(1)
	go b.forward(ctx)
	defer b.wg.Wait()
	defer cancel()

	slog.InfoContext(ctx, "AMQP bridge started", "component", "amqp", "origin", b.origin)
	return b.broker.ConsumeDataChanged(ctx, b.receive)
}

// enqueue runs on the publisher's goroutine, so it never blocks: when the
// buffer is full the event is dropped and counted.
func (b *Bridge) enqueue(e events.Event) {
	if e.Origin != "" {
		return
	}
	select {
	case b.queue <- e:
	default:
		metrics.EventsPublished.WithLabelValues(e.Source, "amqp", "dropped").Inc()
		slog.Warn("AMQP forward buffer full, dropping event",
			"component", "amqp",
			"user_id", e.UserID,
			"source", e.Source)
	}
}

func (b *Bridge) forward(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			err := b.broker.PublishDataChanged(ctx, e, b.origin)
			metrics.EventsPublished.WithLabelValues(e.Source, "amqp", metrics.Result(err)).Inc()
			if err != nil {
				slog.WarnContext(ctx, "Failed to forward event to AMQP",
					"component", "amqp",
					"error", err,
					"user_id", e.UserID,
					"source", e.Source)
			}
		}
	}
}

func (b *Bridge) receive(ctx context.Context, msg *DataChangedMessage) error {
	if msg.Origin == b.origin {
		return nil
	}
	e := msg.Event()
	if e.Origin == "" {
		// Stamp foreign messages so enqueue does not bounce them back.
		e.Origin = "external"
	}
	slog.DebugContext(ctx, "Received remote data change",
		"component", "amqp",
		"user_id", e.UserID,
		"source", e.Source,
		"origin", e.Origin)
	return b.bus.Publish(ctx, e)
}
