package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultIngestQueue is the queue consumed when none is configured.
const DefaultIngestQueue = "pos.realtime.events"

// IngestMessage is the body of a domain event published by order/kitchen services.
type IngestMessage struct {
	RestaurantID string          `json:"restaurantId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Publisher broadcasts server events into a tenant. *Router implements it.
type Publisher interface {
	Publish(ctx context.Context, tenant string, ev v1.Event) error
}

// IngestConfig configures AMQPIngest.
type IngestConfig struct {
	URL      string
	Queue    string
	Prefetch int

	// Redial delays after the broker connection is lost.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// AMQPIngest consumes domain events from RabbitMQ and publishes them to connected terminals.
//
// Messages that can never be delivered (bad JSON, unknown or client-side tags) are rejected
// without requeue; publish failures are requeued.
type AMQPIngest struct {
	log *slog.Logger
	cfg IngestConfig
	pub Publisher

	// session runs one broker connection and calls ready once deliveries flow.
	session func(ctx context.Context, ready func()) error
	after   func(time.Duration) <-chan time.Time
}

var errMalformed = errors.New("malformed ingest message")

// NewAMQPIngest constructs an ingest worker.
func NewAMQPIngest(log *slog.Logger, cfg IngestConfig, pub Publisher) *AMQPIngest {
	if cfg.Queue == "" {
		cfg.Queue = DefaultIngestQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	in := &AMQPIngest{log: log, cfg: cfg, pub: pub, after: time.After}
	in.session = in.consume
	return in
}

// Run consumes until ctx is done, redialing the broker when the connection drops.
// The redial delay doubles up to RetryMax and starts over after a session that consumed.
func (in *AMQPIngest) Run(ctx context.Context) error {
	delay := in.cfg.RetryBase
	for {
		err := in.session(ctx, func() { delay = in.cfg.RetryBase })
		if ctx.Err() != nil {
			return nil
		}
		in.log.Warn("rt.ingest.disconnected", "queue", in.cfg.Queue, "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-in.after(delay):
		}
		delay *= 2
		if delay > in.cfg.RetryMax {
			delay = in.cfg.RetryMax
		}
	}
}

func (in *AMQPIngest) consume(ctx context.Context, ready func()) error {
	conn, err := amqp.Dial(in.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(in.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", in.cfg.Queue, err)
	}
	if err := ch.Qos(in.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := ch.Consume(in.cfg.Queue, "pos-realtime", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", in.cfg.Queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	in.log.Info("rt.ingest.consuming", "queue", in.cfg.Queue, "prefetch", in.cfg.Prefetch)
	ready()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-closed:
			if e == nil {
				return errors.New("amqp channel closed")
			}
			return fmt.Errorf("amqp channel closed: %d %s", e.Code, e.Reason)
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp deliveries closed")
			}
			in.settle(d, in.handle(ctx, d.Body))
		}
	}
}

func (in *AMQPIngest) settle(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformed):
		in.log.Warn("rt.ingest.reject", "delivery_tag", d.DeliveryTag, "err", err)
		_ = d.Nack(false, false)
	default:
		in.log.Warn("rt.ingest.requeue", "delivery_tag", d.DeliveryTag, "err", err)
		_ = d.Nack(false, true)
	}
}

// handle decodes one message body and publishes it.
func (in *AMQPIngest) handle(ctx context.Context, body []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	tenant := strings.TrimSpace(msg.RestaurantID)
	if tenant == "" {
		return fmt.Errorf("%w: missing restaurantId", errMalformed)
	}
	if v1.DirectionOf(msg.Type) != v1.ServerToClient {
		return fmt.Errorf("%w: %q is not a server event", errMalformed, msg.Type)
	}
	ev, err := v1.Decode(msg.Type, msg.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := in.pub.Publish(ctx, tenant, ev); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}
