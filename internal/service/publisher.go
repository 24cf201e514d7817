// Package service connects the parking engine to outside systems. The
// publisher forwards committed lifecycle events to RabbitMQ. Errors are
// logged and returned so the engine can ignore them without interrupting
// the request that caused the event.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/queue"
)

// AMQPPublisher publishes parking events to a durable queue. The connection
// is opened on first use and reopened after a failure.
type AMQPPublisher struct {
	url   string
	queue string
	loc   *time.Location
	log   *log.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for queueName on url. Event times are
// rendered in loc.
func NewAMQPPublisher(url, queueName string, loc *time.Location) *AMQPPublisher {
	if queueName == "" {
		queueName = queue.EventsQueue
	}
	if loc == nil {
		loc = time.Local
	}
	return &AMQPPublisher{url: url, queue: queueName, loc: loc, log: log.New("rabbitmq")}
}

// ToWire converts an engine event into the broker payload.
func ToWire(e parking.Event, id string, loc *time.Location) queue.ParkingEvent {
	w := queue.ParkingEvent{
		ID:              id,
		Type:            string(e.Type),
		OccurredAt:      e.At.In(loc).Format(time.RFC3339),
		UserID:          e.UserID,
		ReservationCode: e.ReservationCode,
		ParkingCode:     e.ParkingCode,
		SpotID:          e.SpotID,
		Reason:          e.Reason,
		Late:            e.Late,
	}
	if !e.EstimatedEnd.IsZero() {
		w.EstimatedEnd = e.EstimatedEnd.In(loc).Format(time.RFC3339)
	}
	return w
}

// channel returns an open channel with the queue declared. Callers hold mu.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Publish implements parking.Publisher. Messages are persistent and carry a
// fresh UUID as message id.
func (p *AMQPPublisher) Publish(ctx context.Context, e parking.Event) error {
	id := uuid.NewString()
	body, err := json.Marshal(ToWire(e, id, p.loc))
	if err != nil {
		p.log.Errorf("marshal event failed: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		p.log.Warnf("connect failed: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    id,
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.log.Warnf("publish %s failed: %v", e.Type, err)
		p.closeLocked()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
