package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrBrokerUnavailable is returned by Publish while the broker connection
// is being re-established.
var ErrBrokerUnavailable = errors.New("amqp broker unavailable")

// Channel is the subset of *amqp.Channel used by AMQPPublisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Session is one live broker connection and its channel. Closed yields once
// when either of them goes away.
type Session struct {
	Channel Channel
	Closed  <-chan *amqp.Error
	conn    io.Closer
}

// DialFunc opens a new Session.
type DialFunc func() (*Session, error)

// AMQPPublisher publishes order events to a topic exchange with routing key
// "order.<status>", so consumers can bind e.g. "order.ready". Publishers
// built with DialAMQP reconnect on their own after a broker or channel drop.
type AMQPPublisher struct {
	mu       sync.Mutex
	sess     *Session
	exchange string

	dial       DialFunc
	newBackOff func() backoff.BackOff
	logger     *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// DialAMQP connects to the broker, declares the exchange and keeps the
// connection alive until Close.
func DialAMQP(url, exchange string, logger *logrus.Logger) (*AMQPPublisher, error) {
	dial := func() (*Session, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		closed := make(chan *amqp.Error, 1)
		go func() {
			var reason *amqp.Error
			select {
			case reason = <-connClosed:
			case reason = <-chClosed:
			}
			closed <- reason
		}()
		return &Session{Channel: ch, Closed: closed, conn: conn}, nil
	}
	return newReconnecting(dial, exchange, logger, func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 30 * time.Second
		eb.MaxElapsedTime = 0
		return eb
	})
}

func newReconnecting(dial DialFunc, exchange string, logger *logrus.Logger, newBackOff func() backoff.BackOff) (*AMQPPublisher, error) {
	sess, err := dial()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(sess.Channel, exchange); err != nil {
		sess.close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &AMQPPublisher{
		sess:       sess,
		exchange:   exchange,
		dial:       dial,
		newBackOff: newBackOff,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go p.watch(sess)
	return p, nil
}

// NewAMQPPublisher declares a durable topic exchange on ch. The result
// publishes on ch only and does not reconnect.
func NewAMQPPublisher(ch Channel, exchange string) (*AMQPPublisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPPublisher{sess: &Session{Channel: ch}, exchange: exchange}, nil
}

func declareExchange(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // args
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// watch waits for sess to drop and redials until it succeeds or the
// publisher is closed.
func (p *AMQPPublisher) watch(sess *Session) {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case reason := <-sess.Closed:
			if p.ctx.Err() != nil {
				return
			}
			p.logger.WithField("reason", reason).Warn("amqp connection lost, reconnecting")
		}

		p.mu.Lock()
		p.sess = nil
		p.mu.Unlock()
		sess.close()

		next, err := p.redial()
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.ctx.Err() != nil {
			p.mu.Unlock()
			next.close()
			return
		}
		p.sess = next
		p.mu.Unlock()
		p.logger.WithField("exchange", p.exchange).Info("amqp reconnected")
		sess = next
	}
}

func (p *AMQPPublisher) redial() (*Session, error) {
	var sess *Session
	connect := func() error {
		s, err := p.dial()
		if err != nil {
			return err
		}
		if err := declareExchange(s.Channel, p.exchange); err != nil {
			s.close()
			return err
		}
		sess = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.WithError(err).WithField("retry_in", wait).Warn("amqp reconnect failed")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(p.newBackOff(), p.ctx), notify); err != nil {
		return nil, err
	}
	return sess, nil
}

func RoutingKey(ev Event) string {
	return "order." + ev.Status
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess == nil {
		return fmt.Errorf("publish %s: %w", ev.Type, ErrBrokerUnavailable)
	}
	err = p.sess.Channel.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.OrderID.String(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close stops reconnecting and closes the current session.
func (p *AMQPPublisher) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.close()
	p.sess = nil
	return err
}

func (s *Session) close() error {
	err := s.Channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
