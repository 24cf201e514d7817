package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads parking events from the broker and appends one
// notification line per event to <Dir>/notifications.log.  The log file
// stands in for the email and SMS gateway.
type Consumer struct {
	URL   string
	Queue string
	Dir   string
	Log   *log.Logger

	mu sync.Mutex // serializes writes to the log file
}

// NewConsumer returns a consumer for queue on url writing into dir.
func NewConsumer(url, queue, dir string) *Consumer {
	if queue == "" {
		queue = EventsQueue
	}
	if dir == "" {
		dir = "logs"
	}
	return &Consumer{URL: url, Queue: queue, Dir: dir, Log: log.New("queue")}
}

// Run connects to RabbitMQ, declares the queue (durable) and consumes until
// ctx is cancelled.  Broken connections are redialled with exponential
// backoff capped at 30s.  A message that cannot be handled is rejected
// without requeue so one bad payload cannot stall the queue.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warnf("dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warnf("consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warnf("set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.Infof("consuming %s", c.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Log.Errorf("handle message: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one payload and appends its notification line.
func (c *Consumer) Handle(body []byte) error {
	var ev ParkingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatNotification(ev) + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders the message a subscriber would receive.
func FormatNotification(ev ParkingEvent) string {
	var msg string
	switch ev.Type {
	case "reservation.created":
		msg = fmt.Sprintf("Reservation %d confirmed for spot %d", ev.ReservationCode, ev.SpotID)
	case "reservation.activated":
		msg = fmt.Sprintf("Reservation %d activated, proceed to spot %d", ev.ReservationCode, ev.SpotID)
	case "reservation.cancelled":
		msg = fmt.Sprintf("Reservation %d cancelled (%s)", ev.ReservationCode, ev.Reason)
	case "reservation.finished":
		msg = fmt.Sprintf("Reservation %d completed", ev.ReservationCode)
	case "session.started":
		msg = fmt.Sprintf("Parked at spot %d with code %d until %s", ev.SpotID, ev.ParkingCode, ev.EstimatedEnd)
	case "session.extended":
		msg = fmt.Sprintf("Parking %d extended until %s", ev.ParkingCode, ev.EstimatedEnd)
	case "session.ended":
		msg = fmt.Sprintf("Exit recorded for parking %d", ev.ParkingCode)
		if ev.Late {
			msg = fmt.Sprintf("Late exit for parking %d, expected by %s", ev.ParkingCode, ev.EstimatedEnd)
		}
	default:
		msg = "Parking update: " + ev.Type
	}
	return fmt.Sprintf("[%s] user_id=%d | %s | event_id=%s", ev.OccurredAt, ev.UserID, msg, ev.ID)
}
