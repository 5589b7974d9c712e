package events

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a durable topic
// exchange.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// DialRabbit connects to url and declares the exchange.
func DialRabbit(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}
	p, err := NewRabbitPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewRabbitPublisher declares exchange on ch. An empty exchange uses
// DefaultExchange.
func NewRabbitPublisher(ch Channel, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, eris.Wrapf(err, "events: declare exchange %s", exchange)
	}
	return &RabbitPublisher{ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) PublishLeadImported(ctx context.Context, ev LeadImported) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal lead imported")
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyLeadImported, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ExternalID,
		Timestamp:    ev.ImportedAt,
		Type:         RoutingKeyLeadImported,
		Body:         body,
	})
	return eris.Wrapf(err, "events: publish %s", ev.ExternalID)
}

// Close closes the channel and, when dialed, the connection.
func (p *RabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
