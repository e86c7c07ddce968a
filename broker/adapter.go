// Package broker owns the AMQP connection, per-queue consumers, routing-key
// mapping, and the dead-letter publisher. It is the only component that
// speaks the wire protocol; everything above it deals in PipelineMessage and
// labels.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/streadway/amqp"
)

// Delivery is the decoded, transport-neutral view of a consumed task handed
// to a handler. Labels always carry at least pipeline_id, step_index, and
// chain when the task belongs to a chain.
type Delivery struct {
	TaskID   string
	TaskName string
	Labels   map[string]string
	Body     []byte
}

// HandlerFunc processes one delivery and returns its result body (used by
// the chain middleware to determine the next hop) or an error.
type HandlerFunc func(ctx context.Context, d Delivery) ([]byte, error)

// Config configures an Adapter.
type Config struct {
	URL          string
	Exchange     string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectMin == 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

// Adapter owns one AMQP connection and a single channel, shared by
// publishing, queue declaration, and every consumer; it does not open a
// channel per queue. It is safe for concurrent Publish calls; Consume should
// be called once per queue the process serves.
type Adapter struct {
	cfg    Config
	dialer Dialer
	log    *logrus.Entry

	mu      sync.Mutex
	conn    Connection
	channel Channel

	publishBreaker *gobreaker.CircuitBreaker
}

// NewAdapter constructs an Adapter. dialer is injected so tests can supply a
// MockDialer instead of reaching a live broker.
func NewAdapter(cfg Config, dialer Dialer, log *logrus.Entry) *Adapter {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Adapter{cfg: cfg, dialer: dialer, log: log}
	a.publishBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "broker-publish",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return a
}

// Connect dials the broker, opens the channel used for publishing, and
// declares the shared direct exchange. It is idempotent: calling it again
// after a successful connect is a no-op.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	return a.connectLocked()
}

func (a *Adapter) connectLocked() error {
	conn, err := a.dialer.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: declare exchange: %w", err)
	}
	a.conn = conn
	a.channel = ch
	return nil
}

// reconnectWithBackoff retries connectLocked with exponential, jittered,
// capped backoff until it succeeds or ctx is done.
func (a *Adapter) reconnectWithBackoff(ctx context.Context) error {
	delay := a.cfg.ReconnectMin
	for attempt := 0; ; attempt++ {
		a.mu.Lock()
		err := a.connectLocked()
		a.mu.Unlock()
		if err == nil {
			return nil
		}
		a.log.WithError(err).Warn("broker: reconnect attempt failed")

		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(math.Min(float64(delay)*2, float64(a.cfg.ReconnectMax)))
	}
}

// Declare idempotently declares queue durable, binds it to the shared
// exchange with a routing key equal to the queue's suffix.
func (a *Adapter) Declare(queue string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil {
		if err := a.connectLocked(); err != nil {
			return err
		}
	}
	if _, err := a.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queue, err)
	}
	key := RoutingKey(queue)
	if err := a.channel.QueueBind(queue, key, a.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("broker: bind queue %s: %w", queue, err)
	}
	return nil
}

// Publish durably publishes taskName/body to queue with the given labels.
// The routing key is the target queue's suffix.
func (a *Adapter) Publish(ctx context.Context, queue, taskID, taskName string, body []byte, labels map[string]string) error {
	env := Envelope{
		Args:     []json.RawMessage{json.RawMessage(body)},
		Kwargs:   map[string]interface{}{},
		Labels:   labels,
		TaskID:   taskID,
		TaskName: taskName,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}

	_, err = a.publishBreaker.Execute(func() (interface{}, error) {
		a.mu.Lock()
		ch := a.channel
		a.mu.Unlock()
		if ch == nil {
			if err := a.reconnectWithBackoff(ctx); err != nil {
				return nil, err
			}
			a.mu.Lock()
			ch = a.channel
			a.mu.Unlock()
		}
		return nil, ch.Publish(a.cfg.Exchange, RoutingKey(queue), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		})
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

// PublishDLQ publishes a dead-letter envelope. Failures are logged but
// never returned as a hard error to the caller: a down DLQ must not cause
// the consumer to re-fail the original task.
func (a *Adapter) PublishDLQ(ctx context.Context, env DLQEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		a.log.WithError(err).Error("broker: marshal dlq envelope")
		return
	}
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil {
		a.log.Error("broker: publish dlq: no channel")
		return
	}
	if err := ch.Publish(a.cfg.Exchange, RoutingKey(DLQQueue), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		a.log.WithError(err).Warn("broker: publish dlq failed")
	}
}

// Consume starts a bounded-concurrency consumer on queue. handler is
// invoked per delivery; its error is captured and never propagated up to
// the AMQP library. ack accordingly to ackPolicy.
func (a *Adapter) Consume(ctx context.Context, queue string, concurrency int, ack AckPolicy, handler HandlerFunc) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil {
		if err := a.Connect(); err != nil {
			return err
		}
		a.mu.Lock()
		ch = a.channel
		a.mu.Unlock()
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("broker: qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	go func() {
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(d amqp.Delivery) {
					defer wg.Done()
					defer func() { <-sem }()
					a.handleDelivery(ctx, d, ack, handler)
				}(d)
			case <-ctx.Done():
				wg.Wait()
				return
			}
		}
	}()
	return nil
}

func (a *Adapter) handleDelivery(ctx context.Context, d amqp.Delivery, ack AckPolicy, handler HandlerFunc) {
	if ack == AckWhenReceived {
		d.Ack(false)
	}

	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		a.log.WithError(err).Error("broker: malformed envelope, dropping delivery")
		if ack != AckWhenReceived {
			d.Nack(false, false)
		}
		return
	}
	var body []byte
	if len(env.Args) > 0 {
		body = env.Args[0]
	}

	_, err := handler(ctx, Delivery{TaskID: env.TaskID, TaskName: env.TaskName, Labels: env.Labels, Body: body})
	if err != nil {
		a.log.WithError(err).WithField("task_name", env.TaskName).Debug("broker: handler returned error, relying on middleware for recovery")
	}

	if ack != AckWhenReceived {
		d.Ack(false)
	}
}

// Close releases the channel and connection, in that order.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
