// Package engine owns the waiting list of every queue: position assignment,
// status transitions, reordering and the change signals and notifications that
// follow a committed mutation.
//
// Every operation runs under a bounded timeout. Mutations of one queue are
// serialized in process here and across processes by the store's row lock.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultServiceMinutes = 15
	defaultNearFront      = 3
	displayUpcoming       = 10
)

type Options struct {
	Timeout               time.Duration
	DefaultServiceMinutes int
	NearFrontThreshold    int
	Location              *time.Location
	Now                   func() time.Time
}

type Engine struct {
	store          store.Store
	broker         realtime.Broker
	notifier       Notifier
	locks          *queueLocks
	tracer         trace.Tracer
	timeout        time.Duration
	serviceMinutes int
	nearFront      int
	location       *time.Location
	now            func() time.Time
}

func New(st store.Store, broker realtime.Broker, notifier Notifier, options Options) *Engine {
	if broker == nil {
		broker = realtime.NewHub(0)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		store:          st,
		broker:         broker,
		notifier:       notifier,
		locks:          newQueueLocks(),
		tracer:         otel.Tracer("qms/queue-dashboard/engine"),
		timeout:        options.Timeout,
		serviceMinutes: options.DefaultServiceMinutes,
		nearFront:      options.NearFrontThreshold,
		location:       options.Location,
		now:            options.Now,
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.serviceMinutes <= 0 {
		e.serviceMinutes = defaultServiceMinutes
	}
	if e.nearFront <= 0 {
		e.nearFront = defaultNearFront
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// run applies the operation timeout, tracing and metrics, and classifies the error.
func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := store.Wrap(op, fn(ctx))
	observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, store.KindOf(err).String())
	}
	return err
}

func (e *Engine) withQueueLock(ctx context.Context, queueID string, fn func() error) error {
	unlock, err := e.locks.acquire(ctx, queueID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// publish signals observers after a committed mutation. The operation context may
// be close to its deadline, so delivery gets its own.
func (e *Engine) publish(ctx context.Context, queueID string, tables ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	at := e.now()
	for _, table := range tables {
		if err := e.broker.Publish(ctx, realtime.Change{QueueID: queueID, Table: table, CreatedAt: at}); err != nil {
			log.Printf("publish change error queue=%s table=%s: %v", queueID, table, err)
		}
	}
}

func (e *Engine) Subscribe(ctx context.Context, queueID string) (*realtime.Subscription, error) {
	if !validID(queueID) {
		return nil, store.ErrQueueNotFound
	}
	err := e.run(ctx, "subscribe", queueAttr(queueID), func(ctx context.Context) error {
		_, err := e.store.GetQueue(ctx, queueID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// The subscription outlives the operation timeout, so it hangs off the caller's context.
	sub, err := e.broker.Subscribe(ctx, queueID)
	if err != nil {
		return nil, store.Wrap("subscribe", err)
	}
	return sub, nil
}

func (e *Engine) Events(ctx context.Context, query store.EventQuery) ([]models.QueueEvent, error) {
	if !validID(query.QueueID) {
		return nil, store.ErrQueueNotFound
	}
	for _, eventType := range query.Types {
		if !models.ValidEventType(eventType) {
			return nil, fmt.Errorf("%w: unknown event type %q", store.ErrInvalidInput, eventType)
		}
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.From.Before(query.To) {
		return nil, fmt.Errorf("%w: from must be before to", store.ErrInvalidInput)
	}
	var events []models.QueueEvent
	err := e.run(ctx, "events", queueAttr(query.QueueID), func(ctx context.Context) error {
		if _, err := e.store.GetQueue(ctx, query.QueueID); err != nil {
			return err
		}
		var err error
		events, err = e.store.ListEvents(ctx, query)
		return err
	})
	return events, err
}

func (e *Engine) dayStart(now time.Time) time.Time {
	local := now.In(e.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
}

func validID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func queueAttr(queueID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("queue.id", queueID)}
}

func tokenAttr(tokenID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("token.id", tokenID)}
}
