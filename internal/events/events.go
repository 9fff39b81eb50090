// Package events fans committed escrow transitions out to observers: the
// structured log, connected websocket clients, and an optional AMQP queue
// for the external messaging layer.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentpay/escrow-engine/internal/goroutine"
	"github.com/agentpay/escrow-engine/internal/logger"
	"github.com/agentpay/escrow-engine/internal/models"
)

// Sink consumes domain events. Implementations must not block the caller;
// the engine publishes on its request path.
type Sink interface {
	Publish(ctx context.Context, event models.Event)
}

// Fanout forwards each event to every attached sink.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, event models.Event) {
	for _, sink := range f.sinks {
		sink.Publish(ctx, event)
	}
}

// LogSink writes events to the structured log.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Publish(_ context.Context, event models.Event) {
	if logger.Log == nil {
		return
	}
	fields := logrus.Fields{
		"event":     event.Type,
		"agreement": event.AgreementID,
		"actor":     event.Actor,
	}
	if event.Amount > 0 {
		fields["amount"] = event.Amount
	}
	if event.Fee > 0 {
		fields["fee"] = event.Fee
	}
	if event.RefundAmount > 0 {
		fields["refund_amount"] = event.RefundAmount
	}
	if event.ReleaseAmount > 0 {
		fields["release_amount"] = event.ReleaseAmount
	}
	if event.MilestoneIdx != nil {
		fields["milestone_index"] = *event.MilestoneIdx
	}
	logger.Log.WithFields(fields).Info("escrow event")
}

// Hub is the part of the websocket hub the sink needs.
type Hub interface {
	NotifyUser(userID uuid.UUID, event string, data any) error
}

// Resolver returns the identities that should observe the event, typically
// the payer and payee of the agreement.
type Resolver func(ctx context.Context, event models.Event) []uuid.UUID

// WSSink pushes events to the websocket hub. Delivery runs off the request
// path so a slow hub never stalls a transition.
type WSSink struct {
	hub     Hub
	resolve Resolver
}

func NewWSSink(hub Hub, resolve Resolver) *WSSink {
	return &WSSink{hub: hub, resolve: resolve}
}

// Publish detaches from the request context; the transition is already
// committed when events go out.
func (s *WSSink) Publish(_ context.Context, event models.Event) {
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range s.resolve(ctx, event) {
			if err := s.hub.NotifyUser(id, event.Type, event); err != nil && logger.Log != nil {
				logger.Log.WithError(err).Warn("events: ws delivery failed")
			}
		}
	})
}

// MetricSink counts transitions on a Prometheus counter.
type MetricSink struct {
	inc func(event string)
}

func NewMetricSink(inc func(string)) *MetricSink {
	return &MetricSink{inc: inc}
}

func (s *MetricSink) Publish(_ context.Context, event models.Event) {
	s.inc(event.Type)
}
