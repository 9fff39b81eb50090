package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agentpay/escrow-engine/internal/goroutine"
	"github.com/agentpay/escrow-engine/internal/logger"
	"github.com/agentpay/escrow-engine/internal/models"
)

// AMQPConfig describes the queue the event stream publishes to.
type AMQPConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// AMQPSink publishes every event as a JSON message for the external
// messaging layer. Publishing is best effort: a broker failure is logged
// and never fails the transition that produced the event.
type AMQPSink struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPSink(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp sink: url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "escrow.events"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp sink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp sink: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp sink: declare queue: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, queue: queue}, nil
}

// Publish detaches from the request context; the transition is already
// committed when events go out.
func (s *AMQPSink) Publish(_ context.Context, event models.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		if logger.Log != nil {
			logger.Log.WithError(err).Error("events: marshal for amqp")
		}
		return
	}

	goroutine.SafeGo(func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.ch.PublishWithContext(pubCtx, "", s.queue, false, false, amqp.Publishing{
			ContentType: "application/json",
			MessageId:   event.AgreementID.String() + ":" + event.Type,
			Timestamp:   event.At,
			Body:        body,
		})
		if err != nil && logger.Log != nil {
			logger.Log.WithError(err).Warn("events: amqp publish failed")
		}
	})
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
