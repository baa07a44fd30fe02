package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"messaging-service/internal/hub"
	"messaging-service/internal/observability"
)

const (
	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
)

// brokerChannel is the part of *amqp.Channel the fan-out uses.
type brokerChannel interface {
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// brokerSession is one broker connection with the instance queue declared on it.
type brokerSession struct {
	ch         brokerChannel
	queue      string
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
	close      func() error
}

type dialFunc func() (*brokerSession, error)

// Fanout is a hub.Broadcaster that routes every publish through a topic
// exchange so that all service instances deliver to their local members.
// Each instance owns one exclusive queue, bound to a group's routing key
// while the instance has at least one local member of that group.
//
// When the broker connection drops the fan-out keeps serving local members
// and redials in the background; a new session is bound to every group that
// has local members before it is used.
type Fanout struct {
	local    *hub.Hub
	exchange string
	dial     dialFunc
	logger   *slog.Logger
	redial   time.Duration

	// mu orders local membership changes with queue bindings and guards sess.
	mu   sync.Mutex
	sess *brokerSession

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// DialFanout connects to the broker, declares the exchange and the instance
// queue, and starts consuming.
func DialFanout(amqpURL, exchange string, local *hub.Hub, logger *slog.Logger) (*Fanout, error) {
	f := newFanout(local, exchange, func() (*brokerSession, error) {
		return dialBroker(amqpURL, exchange)
	}, logger)
	if err := f.start(); err != nil {
		return nil, err
	}
	return f, nil
}

func newFanout(local *hub.Hub, exchange string, dial dialFunc, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		local:    local,
		exchange: exchange,
		dial:     dial,
		logger:   logger.With("component", "fanout"),
		redial:   minRedialDelay,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (f *Fanout) start() error {
	sess, err := f.dial()
	if err != nil {
		return err
	}
	if err := f.attach(sess); err != nil {
		_ = sess.close()
		return err
	}
	go f.run(sess)
	f.logger.Info("fanout connected", "exchange", f.exchange, "queue", sess.queue)
	return nil
}

func dialBroker(amqpURL, exchange string) (*brokerSession, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &brokerSession{
		ch:         ch,
		queue:      q.Name,
		deliveries: deliveries,
		closed:     conn.NotifyClose(make(chan *amqp.Error, 1)),
		close:      conn.Close,
	}, nil
}

// RoutingKey maps a group name to its topic routing key.
func RoutingKey(group string) string {
	return "group." + group
}

// attach binds sess to every group with local members and makes it current.
func (f *Fanout) attach(sess *brokerSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, group := range f.local.Groups() {
		if err := sess.ch.QueueBind(sess.queue, RoutingKey(group), f.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", group, err)
		}
	}
	f.sess = sess
	return nil
}

func (f *Fanout) current() *brokerSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

func (f *Fanout) run(sess *brokerSession) {
	defer close(f.done)
	for sess != nil {
		f.consume(sess)

		f.mu.Lock()
		f.sess = nil
		f.mu.Unlock()
		select {
		case <-f.stop:
			return
		default:
		}
		f.logger.Warn("fanout connection lost, serving local members only")
		sess = f.reconnect()
	}
}

// consume handles deliveries until the session ends or Close is called.
func (f *Fanout) consume(sess *brokerSession) {
	for {
		select {
		case <-f.stop:
			_ = sess.close()
			return
		case amqpErr, ok := <-sess.closed:
			if ok && amqpErr != nil {
				f.logger.Warn("broker closed connection", "code", amqpErr.Code, "reason", amqpErr.Reason)
			}
			return
		case d, ok := <-sess.deliveries:
			if !ok {
				return
			}
			if err := f.handle(d.Body); err != nil {
				f.logger.Warn("drop fanout delivery", "error", err)
			}
		}
	}
}

// reconnect redials with backoff until a session is attached or Close is called.
func (f *Fanout) reconnect() *brokerSession {
	delay := f.redial
	for {
		select {
		case <-f.stop:
			return nil
		case <-time.After(delay):
		}
		sess, err := f.dial()
		if err == nil {
			if err = f.attach(sess); err == nil {
				f.logger.Info("fanout reconnected", "queue", sess.queue)
				return sess
			}
			_ = sess.close()
		}
		f.logger.Warn("fanout redial failed", "error", err, "retry_in", delay)
		delay = min(delay*2, maxRedialDelay)
	}
}

func (f *Fanout) Subscribe(_ context.Context, group string, sink hub.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.local.Add(group, sink) || f.sess == nil {
		return nil
	}
	if err := f.sess.ch.QueueBind(f.sess.queue, RoutingKey(group), f.exchange, false, nil); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			// The next session binds every local group.
			return nil
		}
		f.local.Remove(group, sink)
		return fmt.Errorf("bind %s: %w", group, err)
	}
	return nil
}

func (f *Fanout) Unsubscribe(_ context.Context, group string, sink hub.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.local.Remove(group, sink) || f.sess == nil {
		return nil
	}
	if err := f.sess.ch.QueueUnbind(f.sess.queue, RoutingKey(group), f.exchange, nil); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("unbind %s: %w", group, err)
	}
	return nil
}

// Publish sends the event through the exchange. Without a broker session, or
// when the broker rejects the event, it is delivered to local members only.
func (f *Fanout) Publish(ctx context.Context, group string, event any, opts ...hub.PublishOption) error {
	env, err := hub.NewEnvelope(group, event, opts...)
	if err != nil {
		return err
	}
	sess := f.current()
	if sess == nil {
		f.local.Deliver(env)
		return nil
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = sess.ch.PublishWithContext(ctx, f.exchange, RoutingKey(group), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		f.local.Deliver(env)
		return fmt.Errorf("publish %s: %w", group, err)
	}
	return nil
}

func (f *Fanout) handle(body []byte) error {
	var env hub.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Group == "" {
		return fmt.Errorf("envelope without group")
	}
	f.local.Deliver(env)
	return nil
}

// Close stops consuming, closes the broker connection and ends redialing.
func (f *Fanout) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	<-f.done
	return nil
}

var _ hub.Broadcaster = (*Fanout)(nil)
